// Copyright (c) Tide Foundation Ltd.
// SPDX-License-Identifier: MPL-2.0

// tidecloak-go provides a collection of related packages for building
// clients that authenticate against a Tidecloak/Keycloak-style identity
// provider and exchange field-encrypted data: OIDC authorization-code flow
// with PKCE, DPoP proof-of-possession key management, front-channel and
// hybrid (backend-for-frontend) session orchestration, and the tag-based
// encryption gateway client.
//
// See README.md
package tidecloak
