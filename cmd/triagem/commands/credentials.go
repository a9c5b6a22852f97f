package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"triagem/lib/cadastre"

	"golang.org/x/term"
)

const (
	siatuPasswordEnv  = "TRIAGEM_SIATU_PASSWORD"
	sigedePasswordEnv = "TRIAGEM_SIGEDE_PASSWORD"
)

// prompter asks for whatever was not given on the command line. Answers
// are kept in memory only.
type prompter struct {
	in *bufio.Reader
}

func newPrompter() prompter {
	return prompter{in: bufio.NewReader(os.Stdin)}
}

func (p prompter) line(label string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	answer, err := p.in.ReadString('\n')
	if err != nil && answer == "" {
		return "", err
	}
	return strings.TrimSpace(answer), nil
}

func (p prompter) secret(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return p.line(label)
	}
	fmt.Fprintf(os.Stderr, "%s: ", label)
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(password), nil
}

func (p prompter) credential(realm, username, passwordEnv string) (cadastre.Credential, error) {
	var err error
	if username == "" {
		username, err = p.line(fmt.Sprintf("Usuário %s", realm))
		if err != nil {
			return cadastre.Credential{}, err
		}
	}
	password := os.Getenv(passwordEnv)
	if password == "" {
		password, err = p.secret(fmt.Sprintf("Senha %s", realm))
		if err != nil {
			return cadastre.Credential{}, err
		}
	}
	return cadastre.Credential{Username: username, Password: password}, nil
}

// readCredentials collects the SIATU realm and, when protocols have to be
// resolved, the SIGEDE one.
func readCredentials(siatuUser, sigedeUser string, needSigede bool) (cadastre.Credentials, error) {
	p := newPrompter()

	var creds cadastre.Credentials
	var err error
	creds.Siatu, err = p.credential("SIATU", siatuUser, siatuPasswordEnv)
	if err != nil {
		return creds, err
	}
	if needSigede {
		creds.Sigede, err = p.credential("SIGEDE", sigedeUser, sigedePasswordEnv)
		if err != nil {
			return creds, err
		}
	}
	return creds, creds.Validate(needSigede)
}
