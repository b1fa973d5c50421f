// Package devmode holds the shared development token accepted by the dev
// remote collection and sent by clients started with CONTACTSYNC_DEV_MODE.
package devmode

// Token is the bearer token used against the development remote.
// This token is intentionally obvious and should never be used in production.
const Token = "LOCAL_DEV_MODE_NOT_FOR_PRODUCTION"
