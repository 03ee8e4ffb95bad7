// Package server implements the grant dispatcher of the token engine.
//
// The Server authenticates clients, runs the five supported grants
// (client_credentials, password, authorization_code, refresh_token and the
// legacy implicit grant) and validates presented bearer tokens. It owns no
// state of its own: every record lives in a storage.Store, and every access
// token it hands out is signed by a TokenSigner.
//
// Codes and refresh tokens are redeemed with a single atomic store call
// before anything else about the request is trusted, so concurrent
// redemptions of one code or refresh token yield exactly one winner.
// A code presented with the wrong redirect_uri is therefore consumed and the
// request fails with invalid_grant; a corrected retry fails as well.
//
// Rejections are returned as *Error and matched with errors.Is against the
// Err* sentinels. Any other error is an internal failure.
//
// Example usage:
//
//	store := memory.New()
//	tokenSigner, _ := signer.NewFromBase64(signer.AlgorithmHS256, key, issuer, nil)
//
//	srv, err := server.New(store, tokenSigner, users, &server.Config{
//	    Issuer:        "https://auth.example.com",
//	    EnabledGrants: server.DefaultEnabledGrants,
//	}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	token, err := srv.Token(ctx, &server.TokenRequest{
//	    GrantType:    server.GrantTypeClientCredentials,
//	    ClientID:     clientID,
//	    ClientSecret: clientSecret,
//	})
package server
