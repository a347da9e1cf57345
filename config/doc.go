// Package config loads the querysync YAML configuration.
//
// String values that may carry credentials go through strict environment
// expansion and secret references (see package secret):
//
//	backend:
//	  url: ${QUERYSYNC_BACKEND_URL}
//	  anon_key: secretref:env:QUERYSYNC_ANON_KEY
//	functions:
//	  jwt_secret: secretref:file:jwt_secret
//	secrets:
//	  file:
//	    dir: /run/secrets
package config
