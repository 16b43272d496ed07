// Copyright (c) Tide Foundation Ltd.
// SPDX-License-Identifier: MPL-2.0

// Package oidc is the OpenID Connect protocol collaborator for the IAM
// orchestrator: discovery, authorization URL construction, PKCE code
// verifiers, authorization-code exchange, id_token verification, and token
// refresh.  The orchestrator in package iam drives it through the small
// Client interface; Provider is the production implementation built on
// github.com/coreos/go-oidc and golang.org/x/oauth2.
package oidc
