package conformance

import (
	"context"
	"net/http"
	"net/url"

	"github.com/wondertwin-ai/apiconform/internal/auth"
	"github.com/wondertwin-ai/apiconform/internal/client"
	"github.com/wondertwin-ai/apiconform/internal/contract"
	"github.com/wondertwin-ai/apiconform/internal/report"
	"github.com/wondertwin-ai/apiconform/internal/schema"
)

func loginValid(ctx context.Context, env *Env) report.Outcome {
	resp, err := env.Client.Do(ctx, env.Auth.LoginRequest(env.Creds))
	if err != nil {
		return report.FromError(err)
	}
	if err := contract.ExpectStatus("login", resp.Status, env.Contract.Auth.Success); err != nil {
		return report.FromError(err)
	}
	if token, _ := resp.Field(env.Contract.Auth.TokenField); token == "" || token == nil {
		return report.FromError(contract.Violationf("login", "%q is missing or empty", env.Contract.Auth.TokenField))
	}
	return report.Pass()
}

func loginInvalid(ctx context.Context, env *Env) report.Outcome {
	creds := auth.Credentials{Email: env.Creds.Email, Password: env.Creds.Password + "-wrong"}
	resp, err := env.Client.Do(ctx, env.Auth.LoginRequest(creds))
	if err != nil {
		return report.FromError(err)
	}
	return report.FromError(contract.ExpectStatus("login-invalid", resp.Status, env.Contract.Auth.InvalidCredentials))
}

func loginMissingFields(ctx context.Context, env *Env) report.Outcome {
	ac := env.Contract.Auth
	req := client.Request{Method: http.MethodPost, Path: ac.LoginPath, Body: map[string]any{}}
	if ac.LoginForm {
		req.Body = url.Values{}
	}
	resp, err := env.Client.Do(ctx, req)
	if err != nil {
		return report.FromError(err)
	}
	if err := contract.ExpectStatus("login-missing-fields", resp.Status, ac.MissingFields); err != nil {
		return report.FromError(err)
	}
	return report.FromError(requireDetail("login-missing-fields", resp))
}

func usersMe(ctx context.Context, env *Env) report.Outcome {
	sess, err := env.login(ctx)
	if err != nil {
		return report.FromError(err)
	}
	resp, err := env.Client.Get(ctx, env.Contract.Users.MePath, auth.AuthHeader(sess))
	if err != nil {
		return report.FromError(err)
	}
	if err := contract.ExpectStatus("users/me", resp.Status, env.Contract.Users.Success); err != nil {
		return report.FromError(err)
	}
	if err := schema.Validate(resp.JSON, env.Contract.UserSchema()).Error(); err != nil {
		return report.FromError(contract.Violationf("users/me", "%v", err))
	}
	if email, _ := resp.Field("email"); email != sess.Email {
		return report.FromError(contract.Violationf("users/me", "email is %v, want %s", email, sess.Email))
	}
	return report.Pass()
}

func usersMeUnauthorized(ctx context.Context, env *Env) report.Outcome {
	resp, err := env.Client.Get(ctx, env.Contract.Users.MePath, nil)
	if err != nil {
		return report.FromError(err)
	}
	return report.FromError(contract.ExpectStatus("users/me-unauthorized", resp.Status, env.Contract.Users.Unauthorized))
}
