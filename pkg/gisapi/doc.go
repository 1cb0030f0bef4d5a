// Package gisapi provides types, interfaces, and helpers for working with a
// GIS portal's sharing REST API.
//
// # Overview
//
// The gisapi package defines the domain types (PortalSelf, UserInfo, JobInfo)
// and the interfaces for resource-oriented clients (JobsClient, UsersClient).
// A concrete implementation of these clients is provided by the gisclient
// package, which wires configuration, transport, authentication, and token
// endpoint discovery. Most consumers should import gisclient to construct a
// client and then interact with the interfaces exposed here.
//
// Getting a client
//
//	import (
//	  "context"
//	  "log"
//
//	  "github.com/geoworks-io/gisapi/pkg/gisapi"
//	  "github.com/geoworks-io/gisapi/pkg/gisclient"
//	)
//
//	func example() {
//	  ctx := context.Background()
//	  cli, err := gisclient.New(ctx, &gisapi.Config{
//	    Portal:   "https://www.example.com/portal/sharing/rest",
//	    Username: "user",
//	    Password: "pass",
//	  })
//	  if err != nil { log.Fatal(err) }
//
//	  self, err := cli.GetPortalSelf(ctx)
//	  if err != nil { log.Fatal(err) }
//	  _ = self
//	}
//
// # Jobs
//
// Long-running server-side operations are tracked through the Job interface:
// submit with Jobs().Submit, subscribe to typed status events with On/Once,
// or simply call GetResults to wait for the terminal state and fetch an
// output parameter. See the JobsClient and Job interfaces in jobs.go.
//
// # Errors
//
// API errors are represented by APIError and ResponseError; refresh and
// federation failures by AuthError with a discriminated code. Helpers such as
// IsInvalidToken and IsNotFederated make it easy to branch on common cases.
//
// # Interceptors and caching
//
// The package includes generic building blocks such as request/response
// interceptors (for logging, auth headers, metrics, rate limiting, circuit
// breaking), run by the transport when a chain is set on Config.Interceptors,
// and a pluggable Cache abstraction with memory and NATS KV backends. The gisclient package composes these pieces for a sensible
// default client; applications with advanced needs can use these primitives
// directly.
package gisapi
