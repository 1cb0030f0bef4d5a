// Package gisclient creates configured API clients.
//
// The package normalizes the portal URL, discovers the token endpoint when
// credentials require one, and wires the credential manager, transport, and
// resource clients together:
//
//	client, err := gisclient.NewWithPassword(ctx,
//		"https://example.com/portal/sharing/rest", "alice", "secret")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	job, err := client.Jobs().Submit(ctx, &gisapi.SubmitJobRequest{
//		URL:    "https://gis.example.com/server/rest/services/Demo/GPServer/Buffer",
//		Params: url.Values{"distance": {"10"}},
//	})
//
// For full control over retries, polling, logging, and caching, build a
// gisapi.Config and pass it to New.
package gisclient
