// Package redisx provides the shared Redis client used by the hook POST
// rate limiter and the fallback-delivery dedupe cache.
//
// Basic usage:
//
//	client, err := redisx.New(redisx.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	dedupe, _ := redisx.NewDedupeCache(client, redisx.DefaultDedupeConfig())
//	isNew, _ := dedupe.MarkIfNew(ctx, channelID, snapshotBody)
package redisx
