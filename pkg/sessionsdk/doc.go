/*
Package sessionsdk manages the client side of a StudyHall learning platform session.

# Overview

A session is a single persisted Record (access token, optional refresh token, user
profile, analytics session ID, token expiry and last activity). The Manager owns its
whole lifecycle:

  - Login: exchanges credentials for a Record and starts the background components
  - Refresh: a single timer that renews the access token shortly before it expires
  - Inactivity: a timer plus a periodic re-check that ends idle sessions
  - Heartbeat: a liveness ping while the host is visible
  - Termination: one idempotent path for logout, inactivity and failed refreshes

# APIClient, Store and Manager

The package is organized around three types:

  - APIClient: Stateless HTTP client for the backend endpoints
  - Store: Persisted SessionStore over a KV, with optional sealing
  - Manager: The lifecycle state machine, built from an API and a SessionStore

Wire them together and resume any persisted session:

	api := sessionsdk.NewAPIClient("https://api.example.com")
	store := sessionsdk.NewStore(sessionsdk.NewMemoryKV())

	mgr := sessionsdk.NewManager(api, store, sessionsdk.Options{})
	if err := mgr.Start(ctx); err != nil {
		return err
	}

# Consumer Surface

	err := mgr.Login(ctx, "a@b.com", "secret")
	if errors.Is(err, sessionsdk.ErrInvalidCredentials) {
		// Show "wrong email or password"
	}

	mgr.IsAuthenticated()  // true while a Record exists
	mgr.CurrentToken()     // bearer token for API calls
	mgr.CurrentUserRole()  // "student", "teacher", ...
	mgr.NotifyActivity()   // on every user interaction
	mgr.Logout(ctx)

Every accessor reads the persisted Record; nothing caches the token beyond a single
call.

# Timers

All durations live in Timing. With the defaults the refresh fires 5 minutes before
expiry, the session ends after 1 hour without activity (re-checked against the
store every 30 seconds), and the heartbeat runs every 60 seconds.

Only one refresh timer is ever armed. Every timer callback captures the session
epoch it was armed for and does nothing once that session has ended or been
replaced.

# Host Hooks

  - SetVisible: suspends the heartbeat while hidden, pings immediately when shown
  - Resync: reconciles with a Record changed by another process
  - Teardown: stops everything and sends a fire-and-forget end-session beacon
    without clearing the Record

# Error Handling

Login returns *InvalidCredentialsError for HTTP 401/403 and *NetworkOrServerError for
everything else. Refresh failures end the session and are reported to OnLogout with
ReasonRefreshFailed; RefreshTokenNow additionally returns the *RefreshError.
Heartbeat and end-session failures are only logged.

# Thread Safety

Manager is safe for concurrent use. A single mutex guards its state and every
read-modify-write of the Record; network calls never run while it is held.
*/
package sessionsdk
