// Copyright (c) Tide Foundation Ltd.
// SPDX-License-Identifier: MPL-2.0

package tidecloak_test

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tidecloak/tidecloak-go/enclave"
	"github.com/tidecloak/tidecloak-go/iam"
)

func Example_frontChannel() {
	ctx := context.Background()

	// Create a front-channel service: the browser process holds tokens
	// and the access token is mirrored into the kcToken cookie for
	// server-side middleware.
	svc, err := iam.NewService(&iam.FrontChannelConfig{
		Issuer:          "https://your-issuer.com/realms/app",
		ClientId:        "your_client_id",
		RedirectURL:     "https://your-app.com/callback",
		EnclaveEndpoint: "https://your-enclave.com",
	})
	if err != nil {
		// handle error
	}

	svc.On(iam.EventAuthSuccess, func(iam.Event) {
		fmt.Println("authenticated")
	})

	// Init runs discovery and the silent session check.  Passing the
	// current URL lets a callback redirect complete the login in the same
	// call.
	authenticated, err := svc.Init(ctx, currentURL())
	if err != nil {
		// handle error
	}
	fmt.Println("authenticated: ", authenticated)

	// Without a session, kick off a login: navigate the user to the
	// returned URL and the callback page load's Init completes it.
	if !authenticated {
		authURL, err := svc.StartLogin("/dashboard")
		if err != nil {
			// handle error
		}
		fmt.Println("open url to kick-off authentication: ", authURL)
		return
	}

	// Encrypt a field: the enclave authorizes each item against the
	// bearer token's per-tag roles and answers position by position.
	results, err := svc.Encrypt(ctx, []enclave.EncryptItem{
		{Data: "03/04/2005", Tags: []string{"dob"}},
	})
	if err != nil {
		// handle error
	}
	for _, r := range results {
		if r.Denied() {
			// handle denial
		}
	}
}

// currentURL stands in for the visible page URL of the running
// application.
func currentURL() string {
	return "https://your-app.com/dashboard"
}

func Example_hybrid() {
	ctx := context.Background()

	// Create a hybrid service: only the authorization code reaches this
	// side; a trusted backend exchanges it and holds the tokens.
	svc, err := iam.NewService(&iam.HybridConfig{
		AuthorizationEndpoint: "https://your-issuer.com/realms/app/protocol/openid-connect/auth",
		ClientId:              "your_client_id",
		RedirectURI:           "https://your-app.com/callback",
		TokenExchange:         iam.TokenExchangeConfig{Endpoint: "https://your-app.com/api/auth"},
	})
	if err != nil {
		// handle error
	}

	// Kick off a login: navigate the user to the returned URL.
	authURL, err := svc.StartLogin("/dashboard")
	if err != nil {
		// handle error
	}
	fmt.Println("open url to kick-off authentication: ", authURL)

	// Handle the authorization response redirect.
	callbackHandler := func(w http.ResponseWriter, r *http.Request) {
		result, err := svc.HandleCallback(ctx, r.URL.String())
		if err != nil {
			// handle error
		}
		if result.Authenticated {
			http.Redirect(w, r, result.ReturnURL, http.StatusSeeOther)
		}
	}
	http.HandleFunc("/callback", callbackHandler)
}
