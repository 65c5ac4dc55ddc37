// Command smoke walks a deployed API through the citizen and agent journeys
// using the SDK in pkg/client. It is meant for staging checks after a
// deploy, not for CI.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/abidjan-digital/declaration-api/internal/models"
	"github.com/abidjan-digital/declaration-api/pkg/client"
)

func main() {
	var (
		baseURL  string
		email    string
		password string
		timeout  time.Duration
	)

	flag.StringVar(&baseURL, "base", "http://localhost:5000/api", "API base URL including the prefix")
	flag.StringVar(&email, "email", "", "account email")
	flag.StringVar(&password, "password", "", "account password")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "overall run timeout")
	flag.Parse()

	if email == "" || password == "" {
		log.Fatal("both -email and -password are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	c := client.New(baseURL)
	session := client.NewSession(c, zap.NewNop())
	guard := client.NewGuard(session)

	failures := 0
	check := func(name string, err error) {
		if err != nil {
			failures++
			fmt.Printf("[FAIL] %s: %v\n", name, err)
			return
		}
		fmt.Printf("[ OK ] %s\n", name)
	}

	snapshot, err := session.Login(ctx, email, password)
	check("login", err)
	if err != nil {
		os.Exit(1)
	}
	fmt.Printf("       role=%s default-route=%s\n",
		snapshot.Principal.Role, models.DefaultRouteFor(snapshot.Principal.Role))

	if decision := guard.Authorize(); decision.Verdict != client.VerdictAllow {
		failures++
		fmt.Printf("[FAIL] guard: authenticated session not allowed through\n")
	} else {
		fmt.Printf("[ OK ] guard\n")
	}

	commissariats, err := c.Commissariats(ctx)
	check("list commissariats", err)
	if err == nil {
		fmt.Printf("       %d commissariats\n", len(commissariats))
	}

	switch snapshot.Principal.Role {
	case models.RoleUser:
		runCitizen(ctx, c, check)
	case models.RoleAgent:
		runAgent(ctx, c, snapshot.Principal, check)
	case models.RoleAdmin:
		fmt.Println("       admin account: skipping role-specific journeys")
	}

	session.Logout()
	fmt.Printf("Failures: %d\n", failures)
	if failures > 0 {
		os.Exit(1)
	}
}

func runCitizen(ctx context.Context, c *client.Client, check func(string, error)) {
	declarations, err := c.MyDeclarations(ctx)
	check("my declarations", err)
	if err != nil {
		return
	}
	fmt.Printf("       %d declarations\n", len(declarations))
	for _, d := range declarations {
		fmt.Printf("       %s %s deletable=%t\n", d.ID, d.Status, d.Status.Deletable())
	}
}

func runAgent(ctx context.Context, c *client.Client, principal *models.Principal, check func(string, error)) {
	if principal.CommissariatID == nil {
		check("agent journey", fmt.Errorf("agent has no commissariat assignment"))
		return
	}
	commissariatID := *principal.CommissariatID

	count, err := c.PendingCount(ctx, commissariatID)
	check("pending count", err)
	if err == nil {
		fmt.Printf("       %d pending at %s\n", count.Pending, commissariatID)
	}

	declarations, err := c.CommissariatDeclarations(ctx, commissariatID)
	check("commissariat declarations", err)
	if err != nil {
		return
	}
	for _, d := range declarations {
		fmt.Printf("       %s %s receipt-issuable=%t\n", d.ID, d.Status, models.CanIssueReceipt(&d))
	}
}
