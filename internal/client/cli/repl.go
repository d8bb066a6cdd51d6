package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the command surface the REPL dispatches to.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	Players(ctx context.Context) error
	AddPlayer(ctx context.Context, name string) error
	DeletePlayer(ctx context.Context, id string) error
	Seasons(ctx context.Context) error
	AddSeason(ctx context.Context, name string) error
	Games(ctx context.Context) error
	AddGame(ctx context.Context) error
	Settings(ctx context.Context) error
	SetLanguage(ctx context.Context, code string) error
	Sync(ctx context.Context) error
	Resync(ctx context.Context) error
	Status(ctx context.Context) error
	Network(ctx context.Context, state string) error
	Issues(ctx context.Context) error
	Retry(ctx context.Context, id string) error
	Dismiss(ctx context.Context, id string) error
	Export(ctx context.Context, path string) error
	Import(ctx context.Context, path string) error
	Backup(ctx context.Context) error
	Backups(ctx context.Context) error
	Restore(ctx context.Context, key string) error
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
}

const helpText = `Available commands:
  players | addplayer <name> | delplayer <id>
  seasons | addseason <name>
  games   | addgame
  settings | lang <code>
  sync | resync | status | issues | retry <op-id> | dismiss <op-id>
  network on|off
  export <file> | import <file>
  backup | backups | restore <key>
  login | logout | help | exit`

// usage lists the commands that need an argument.
var usage = map[string]string{
	"addplayer": "addplayer <name>",
	"delplayer": "delplayer <id>",
	"addseason": "addseason <name>",
	"lang":      "lang <code>",
	"retry":     "retry <op-id>",
	"dismiss":   "dismiss <op-id>",
	"network":   "network on|off",
	"export":    "export <file>",
	"import":    "import <file>",
	"restore":   "restore <key>",
}

// runREPL starts a read–eval–print loop for the coachkeeper CLI.
//
// It reads a line from reader, parses the first token as the
// command, and dispatches to methods on 'a'. The rest of the line is the
// argument; names may contain spaces. The loop exits on EOF or when
// the user types "exit" or "quit". Command errors are printed and the loop
// goes on. Commands that prompt read from the same reader.
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader) {
	for {
		if statusFn != nil {
			printlnFn(fmt.Sprintf("ck %s> ", statusFn()))
		}
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd := parts[0]
		arg := strings.Join(parts[1:], " ")

		if u, ok := usage[cmd]; ok && arg == "" {
			printlnFn("Usage:", u)
			continue
		}

		err = nil
		switch cmd {
		case "help":
			printlnFn(helpText)
		case "players":
			err = a.Players(ctx)
		case "addplayer":
			err = a.AddPlayer(ctx, arg)
		case "delplayer":
			err = a.DeletePlayer(ctx, arg)
		case "seasons":
			err = a.Seasons(ctx)
		case "addseason":
			err = a.AddSeason(ctx, arg)
		case "games":
			err = a.Games(ctx)
		case "addgame":
			err = a.AddGame(ctx)
		case "settings":
			err = a.Settings(ctx)
		case "lang":
			err = a.SetLanguage(ctx, arg)
		case "sync":
			err = a.Sync(ctx)
		case "resync":
			err = a.Resync(ctx)
		case "status":
			err = a.Status(ctx)
		case "network":
			err = a.Network(ctx, arg)
		case "issues":
			err = a.Issues(ctx)
		case "retry":
			err = a.Retry(ctx, arg)
		case "dismiss":
			err = a.Dismiss(ctx, arg)
		case "export":
			err = a.Export(ctx, arg)
		case "import":
			err = a.Import(ctx, arg)
		case "backup":
			err = a.Backup(ctx)
		case "backups":
			err = a.Backups(ctx)
		case "restore":
			err = a.Restore(ctx, arg)
		case "login":
			err = a.Login(ctx)
		case "logout":
			err = a.Logout(ctx)
		case "exit", "quit":
			printlnFn("Bye!")
			return
		default:
			printlnFn("Unknown command:", cmd)
		}
		if err != nil {
			printlnFn("Error:", err)
		}
	}
}

// Root runs the REPL over stdin until the user exits. The status prompt is
// only shown on a terminal.
func (a *App) Root(ctx context.Context) {
	a.logger.Info(ctx, "Welcome to coachkeeper (type 'help' for commands)")

	var statusFn func() string
	if interactive() {
		statusFn = func() string { return a.getStatus(ctx) }
	}
	runREPL(ctx, a, statusFn, a.reader)
}
