// Package gemini implements ai.Tagger on top of the Gemini generateContent
// REST endpoints.
//
// Requests authenticate either with a static API key or with an OAuth2
// bearer token. Bearer tokens are cached by Credentials for a fixed
// lifespan and refreshed early when the API answers 401 or 403.
//
// Every call is retried according to the configured retry.Policy:
// rate limiting and server errors back off exponentially, authorization
// failures refresh the token and retry at once, and anything else fails
// immediately.
package gemini
