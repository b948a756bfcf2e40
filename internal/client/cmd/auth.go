package cmd

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"recordsync/internal/shared/models"
)

type authClient struct {
	env *env
}

func newAuthCmd(e *env) *cobra.Command {
	a := &authClient{env: e}
	cmd := &cobra.Command{Use: "auth", Short: "Authentication commands"}
	cmd.AddCommand(&cobra.Command{Use: "register", Short: "Register new user", RunE: a.register})
	cmd.AddCommand(&cobra.Command{Use: "login", Short: "Login and store the session", RunE: a.login})
	cmd.AddCommand(&cobra.Command{Use: "logout", Short: "Forget the stored session", RunE: a.logout})
	return cmd
}

func (a *authClient) register(cmd *cobra.Command, args []string) error {
	email, password, err := promptCredentials(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := a.env.context(cmd)
	defer cancel()
	if _, err := a.post(ctx, "/api/v1/auth/register", email, password); err != nil {
		return fmt.Errorf("register failed: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Registered")
	return nil
}

func (a *authClient) login(cmd *cobra.Command, args []string) error {
	email, password, err := promptCredentials(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := a.env.context(cmd)
	defer cancel()
	raw, err := a.post(ctx, "/api/v1/auth/login", email, password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	var tokens models.TokenResponse
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return err
	}
	if err := a.env.store.Save(tokens); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Logged in")
	return nil
}

func (a *authClient) logout(cmd *cobra.Command, args []string) error {
	if err := a.env.store.Clear(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
	return nil
}

func (a *authClient) post(ctx context.Context, path, email, password string) ([]byte, error) {
	b, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(a.env.cfg.ServerURL, "/")+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		var body struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &body) == nil && body.Error != "" {
			return nil, errors.New(body.Error)
		}
		return nil, errors.New(resp.Status)
	}
	return raw, nil
}

// promptCredentials reads an email and a password. The password is read
// without echo when stdin is a terminal.
func promptCredentials(cmd *cobra.Command) (string, string, error) {
	in := cmd.InOrStdin()
	reader := bufio.NewReader(in)
	fmt.Fprint(cmd.OutOrStdout(), "Email: ")
	email, err := readLine(reader)
	if err != nil {
		return "", "", err
	}
	fmt.Fprint(cmd.OutOrStdout(), "Password: ")
	var password string
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		pass, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", "", err
		}
		password = string(pass)
	} else {
		password, err = readLine(reader)
		if err != nil {
			return "", "", err
		}
	}
	fmt.Fprintln(cmd.OutOrStdout())
	if email == "" || password == "" {
		return "", "", errors.New("email and password required")
	}
	return email, password, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
