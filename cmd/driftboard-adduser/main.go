// Command driftboard-adduser provisions a user in the credential store.
// It shares the store and its advisory lock file with the server, so it
// can run while the server is up; if the lock is held it fails fast
// rather than queueing.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/driftline/driftboard/pkg/credstore"
)

func main() {
	dbPath := flag.String("db", "./auth.db", "path to the credential store")
	lockPath := flag.String("lock", "./auth.lock", "path to the advisory lock file")
	minPassword := flag.Int("min-password", 0, "minimum password length (0 = no check; the server still enforces its own minimum on password changes)")
	flag.Parse()

	if flag.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "Usage: driftboard-adduser [flags] <username> <password>")
		flag.PrintDefaults()
		os.Exit(1)
	}

	username := flag.Arg(0)
	password := flag.Arg(1)

	if len(username) < 1 {
		fmt.Fprintln(os.Stderr, "ERROR: Invalid username")
		os.Exit(1)
	}
	if *minPassword > 0 && len(password) < *minPassword {
		fmt.Fprintln(os.Stderr, "ERROR: Password too short")
		os.Exit(1)
	}

	store := credstore.New(*dbPath, *lockPath)
	switch err := store.AddUser(username, password); {
	case err == nil:
		fmt.Printf("Added user %s\n", username)
	case errors.Is(err, credstore.ErrStoreBusy):
		fmt.Fprintln(os.Stderr, "ERROR: Database locked. Try later or remove the lock manually if the server is not running.")
		os.Exit(1)
	case errors.Is(err, credstore.ErrUserExists):
		fmt.Fprintf(os.Stderr, "ERROR: user %s already exists.\n", username)
		os.Exit(1)
	default:
		fmt.Fprintf(os.Stderr, "ERROR: DB I/O error: %v\n", err)
		os.Exit(1)
	}
}
