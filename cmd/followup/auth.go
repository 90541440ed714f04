package main

import (
	"context"
	"fmt"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/foxzi/followup/internal/api"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the access token",
	RunE:  runLogin,
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account and sign in",
	RunE:  runRegister,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored access token",
	RunE:  runLogout,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in account",
	RunE:  runWhoami,
}

var (
	authEmail    string
	authPassword string
)

func init() {
	for _, cmd := range []*cobra.Command{loginCmd, registerCmd} {
		cmd.Flags().StringVar(&authEmail, "email", "", "Account email")
		cmd.Flags().StringVar(&authPassword, "password", "", "Account password (will prompt if not provided)")
		cmd.MarkFlagRequired("email")
	}
}

func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	pw, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Println()
	return string(pw), nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	rt, err := setup(false)
	if err != nil {
		return err
	}
	defer rt.Close()

	password := authPassword
	if password == "" {
		if password, err = readPassword("Password: "); err != nil {
			return err
		}
	}

	tok, err := rt.client.Login(context.Background(), &api.Credentials{Email: authEmail, Password: password})
	if err != nil {
		return fmt.Errorf("login failed: %s", api.Message(err, "Login failed"))
	}
	if err := rt.session.SetToken(tok.AccessToken); err != nil {
		return err
	}
	fmt.Printf("Logged in as %s\n", authEmail)
	return nil
}

func runRegister(cmd *cobra.Command, args []string) error {
	rt, err := setup(false)
	if err != nil {
		return err
	}
	defer rt.Close()

	password := authPassword
	if password == "" {
		if password, err = readPassword("Password: "); err != nil {
			return err
		}
		again, err := readPassword("Confirm password: ")
		if err != nil {
			return err
		}
		if password != again {
			return fmt.Errorf("passwords do not match")
		}
	}
	if strings.TrimSpace(password) == "" {
		return fmt.Errorf("password must not be empty")
	}

	tok, err := rt.client.Register(context.Background(), &api.Credentials{Email: authEmail, Password: password})
	if err != nil {
		return fmt.Errorf("registration failed: %s", api.Message(err, "Registration failed"))
	}
	if err := rt.session.SetToken(tok.AccessToken); err != nil {
		return err
	}
	fmt.Printf("Account %s created\n", authEmail)
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	rt, err := setup(false)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.session.Logout(); err != nil {
		return err
	}
	fmt.Println("Logged out")
	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
	rt, err := setup(false)
	if err != nil {
		return err
	}
	defer rt.Close()
	if err := rt.requireLogin(); err != nil {
		return err
	}

	user, err := rt.client.Me(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("%s (id %d) at %s\n", user.Email, user.ID, rt.client.BaseURL())
	return nil
}
