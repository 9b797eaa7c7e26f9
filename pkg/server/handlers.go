package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dguik/discode/lib/instance"
	"github.com/dguik/discode/lib/msgfmt"
	"github.com/dguik/discode/lib/runtime"
	"github.com/dguik/discode/lib/termexec"
)

type statusBody struct {
	Status string `json:"status"`
}

type reloadInput struct{}

type reloadOutput struct {
	Body statusBody
}

type sendFilesInput struct {
	Body struct {
		ProjectName string   `json:"projectName"`
		AgentType   string   `json:"agentType,omitempty"`
		InstanceID  string   `json:"instanceId,omitempty"`
		Files       []string `json:"files"`
	}
}

type sendFilesOutput struct {
	Body statusBody
}

type runtimeWindowInput struct {
	Body struct {
		WindowID string `json:"windowId"`
	}
}

type runtimeInputInput struct {
	// Service carries the short-lived signed token the Router (or an
	// orchestrator acting for a user turn) attaches so input to a window
	// can be traced back to a channel. Optional; verified when present.
	Service string `header:"X-Discode-Service" required:"false"`

	Body struct {
		WindowID string `json:"windowId"`
		Keys     string `json:"keys,omitempty"`
		Enter    bool   `json:"enter,omitempty"`
	}
}

type runtimeEnsureInput struct {
	Body struct {
		WindowID    string   `json:"windowId"`
		Program     string   `json:"program"`
		Args        []string `json:"args,omitempty"`
		ProjectName string   `json:"projectName"`
		InstanceID  string   `json:"instanceId,omitempty"`
		AgentType   string   `json:"agentType,omitempty"`
		ChannelID   string   `json:"channelId,omitempty"`
		ProjectPath string   `json:"projectPath,omitempty"`
	}
}

type runtimeEnsureOutput struct {
	Body struct {
		Status   string `json:"status"`
		WindowID string `json:"windowId"`
	}
}

type windowSummary struct {
	ID    string `json:"id"`
	Alive bool   `json:"alive"`
}

type runtimeWindowsOutput struct {
	Body struct {
		Windows []windowSummary `json:"windows"`
	}
}

type runtimeBufferInput struct {
	WindowID string `query:"windowId" required:"true" doc:"Window to snapshot"`
	Since    int64  `query:"since" doc:"Reserved for incremental reads; currently ignored"`
}

type runtimeBufferOutput struct {
	Body struct {
		WindowID string `json:"windowId"`
		Buffer   string `json:"buffer"`
	}
}

// registerAPI declares the control surface next to the raw hook endpoint:
// /reload, /send-files, and the /runtime family, each a typed operation so
// the generated OpenAPI doubles as the adapter authors' reference.
func registerAPI(api huma.API, c *Components, logger *slog.Logger) {
	huma.Register(api, huma.Operation{
		OperationID: "reload",
		Method:      http.MethodPost,
		Path:        "/reload",
		Summary:     "Trigger the external reload callback",
	}, func(ctx context.Context, _ *reloadInput) (*reloadOutput, error) {
		// No local state to update; a deployment wires the actual reload
		// into its process manager (systemd ExecReload or similar).
		logger.Info("reload requested")
		return &reloadOutput{Body: statusBody{Status: "ok"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "send-files",
		Method:      http.MethodPost,
		Path:        "/send-files",
		Summary:     "Deliver project files to the instance's chat channel",
	}, func(ctx context.Context, in *sendFilesInput) (*sendFilesOutput, error) {
		if in.Body.ProjectName == "" || len(in.Body.Files) == 0 {
			return nil, huma.Error400BadRequest("projectName and files are required")
		}

		inst, err := c.Instances.Resolve(in.Body.ProjectName, in.Body.InstanceID, msgfmt.AgentType(in.Body.AgentType))
		if err != nil {
			return nil, huma.Error400BadRequest(err.Error())
		}

		// Every path must exist and resolve underneath the instance's
		// projectPath before it is handed to the sender, so a hook
		// payload can't be used to exfiltrate arbitrary filesystem paths.
		resolved, err := resolveUnderProjectPath(inst.ProjectPath, in.Body.Files)
		if err != nil {
			return nil, huma.Error400BadRequest(err.Error())
		}

		if err := c.Sender.SendFiles(ctx, inst.ChannelID, resolved); err != nil {
			logger.Error("send-files: delivery failed", "project", in.Body.ProjectName, "error", err)
			return nil, huma.Error502BadGateway("failed to deliver attachments")
		}
		return &sendFilesOutput{Body: statusBody{Status: "ok"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "runtime-focus",
		Method:      http.MethodPost,
		Path:        "/runtime/focus",
		Summary:     "Mark a window as the active input target",
	}, func(ctx context.Context, in *runtimeWindowInput) (*reloadOutput, error) {
		win, err := lookupWindow(c, in.Body.WindowID)
		if err != nil {
			return nil, err
		}
		win.Focus()
		return &reloadOutput{Body: statusBody{Status: "ok"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "runtime-input",
		Method:      http.MethodPost,
		Path:        "/runtime/input",
		Summary:     "Type keys (and optionally Enter) into a window",
	}, func(ctx context.Context, in *runtimeInputInput) (*reloadOutput, error) {
		if c.Signer != nil && in.Service != "" {
			channelID, err := c.Signer.Verify(ctx, in.Service)
			if err != nil {
				return nil, huma.Error401Unauthorized("invalid service token")
			}
			logger.Debug("runtime/input on behalf of channel", "channel_id", channelID)
		}
		win, err := lookupWindow(c, in.Body.WindowID)
		if err != nil {
			return nil, err
		}
		if err := win.TypeKeys([]byte(in.Body.Keys)); err != nil {
			return nil, huma.Error404NotFound("failed to type keys: " + err.Error())
		}
		if in.Body.Enter {
			if err := win.SendEnter(); err != nil {
				return nil, huma.Error404NotFound("failed to send enter: " + err.Error())
			}
		}
		return &reloadOutput{Body: statusBody{Status: "ok"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "runtime-stop",
		Method:      http.MethodPost,
		Path:        "/runtime/stop",
		Summary:     "Stop a window's process and deregister it",
	}, func(ctx context.Context, in *runtimeWindowInput) (*reloadOutput, error) {
		win, err := lookupWindow(c, in.Body.WindowID)
		if err != nil {
			return nil, err
		}
		if err := win.Stop(logger, 10*time.Second); err != nil {
			logger.Warn("runtime/stop: process close returned an error",
				"window_id", in.Body.WindowID, "error", err)
		}
		c.Windows.Remove(in.Body.WindowID)
		return &reloadOutput{Body: statusBody{Status: "ok"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "runtime-ensure",
		Method:      http.MethodPost,
		Path:        "/runtime/ensure",
		Summary:     "Start (or confirm) a terminal window for a project instance",
	}, func(ctx context.Context, in *runtimeEnsureInput) (*runtimeEnsureOutput, error) {
		if in.Body.WindowID == "" || in.Body.Program == "" || in.Body.ProjectName == "" {
			return nil, huma.Error400BadRequest("windowId, program, and projectName are required")
		}

		out := &runtimeEnsureOutput{}
		if win, ok := c.Windows.Get(in.Body.WindowID); ok && win.IsAlive() {
			out.Body.Status, out.Body.WindowID = "ok", win.ID
			return out, nil
		}

		startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		win, err := runtime.Ensure(startCtx, in.Body.WindowID, termexec.StartProcessConfig{
			Program: in.Body.Program,
			Args:    in.Body.Args,
		})
		if err != nil {
			return nil, huma.Error501NotImplemented("failed to start window: " + err.Error())
		}
		c.Windows.Put(win)

		c.Instances.Register(&instance.ProjectInstance{
			ProjectName: in.Body.ProjectName,
			InstanceID:  in.Body.InstanceID,
			AgentType:   msgfmt.AgentType(in.Body.AgentType),
			ChannelID:   in.Body.ChannelID,
			ProjectPath: in.Body.ProjectPath,
			Window:      win,
		})

		out.Body.Status, out.Body.WindowID = "ok", win.ID
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "runtime-windows",
		Method:      http.MethodGet,
		Path:        "/runtime/windows",
		Summary:     "List registered windows",
	}, func(ctx context.Context, _ *struct{}) (*runtimeWindowsOutput, error) {
		windows := c.Windows.List()
		out := &runtimeWindowsOutput{}
		out.Body.Windows = make([]windowSummary, 0, len(windows))
		for _, win := range windows {
			out.Body.Windows = append(out.Body.Windows, windowSummary{ID: win.ID, Alive: win.IsAlive()})
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "runtime-buffer",
		Method:      http.MethodGet,
		Path:        "/runtime/buffer",
		Summary:     "Snapshot a window's screen contents",
	}, func(ctx context.Context, in *runtimeBufferInput) (*runtimeBufferOutput, error) {
		win, err := lookupWindow(c, in.WindowID)
		if err != nil {
			return nil, err
		}
		out := &runtimeBufferOutput{}
		out.Body.WindowID = in.WindowID
		out.Body.Buffer = win.Buffer()
		return out, nil
	})
}

func lookupWindow(c *Components, windowID string) (*runtime.Window, error) {
	if windowID == "" {
		return nil, huma.Error400BadRequest("windowId is required")
	}
	win, ok := c.Windows.Get(windowID)
	if !ok {
		return nil, huma.Error404NotFound("window not found")
	}
	return win, nil
}

// resolveUnderProjectPath validates that every file in files exists and,
// once symlinks are resolved, lives under projectRoot.
func resolveUnderProjectPath(projectRoot string, files []string) ([]string, error) {
	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving project path: %w", err)
	}
	root, err = filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("resolving project path: %w", err)
	}

	resolved := make([]string, 0, len(files))
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return nil, fmt.Errorf("invalid path %q: %w", f, err)
		}
		real, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return nil, fmt.Errorf("path %q does not exist: %w", f, err)
		}
		if !strings.HasPrefix(real, root+string(filepath.Separator)) && real != root {
			return nil, fmt.Errorf("path %q is outside project %q", f, root)
		}
		if _, err := os.Stat(real); err != nil {
			return nil, fmt.Errorf("path %q does not exist: %w", f, err)
		}
		resolved = append(resolved, real)
	}
	return resolved, nil
}
