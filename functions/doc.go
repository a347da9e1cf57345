// Package functions serves the stateless HTTP function endpoints.
//
// Every endpoint takes and returns JSON, answers CORS preflight requests and
// requires the caller's backend access token:
//
//	POST /functions/v1/generate-content  AI copy for captions, proposals, summaries
//	POST /functions/v1/accept-proposal   proposal -> contract -> first invoice
//
// Backend writes are made with the caller's token so row-level security
// applies. Nothing is kept between invocations.
package functions
