package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/platinummonkey/ledger/pkg/audit"
	"github.com/platinummonkey/ledger/pkg/entity"
	"github.com/platinummonkey/ledger/pkg/lifecycle"
	"github.com/platinummonkey/ledger/pkg/sentinel"
)

const demoEditor = "ledger-demo"

func newDemoCommand(out io.Writer) *Command {
	cmd := &Command{
		Name:        "demo",
		Description: "Drive a sample user through its lifecycle and print the audit trail",
		Flags:       flag.NewFlagSet("demo", flag.ContinueOnError),
	}
	configPath := cmd.Flags.String("config", "", "Path to a YAML configuration file")
	id := cmd.Flags.String("id", "demo-user", "Id of the sample user")
	keep := cmd.Flags.Bool("keep", false, "Leave the sample user in the repository")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := parseFlags(cmd.Flags, args); err != nil {
			return err
		}

		app, err := loadApp(ctx, *configPath)
		if err != nil {
			return err
		}
		defer app.Close()

		newUser := func() *entity.User { return &entity.User{} }
		repo, err := openRepository(ctx, app, "users", newUser)
		if err != nil {
			return err
		}

		users, err := lifecycle.NewManager(lifecycle.Config[*entity.User]{
			Repository: repo,
			New:        newUser,
			Recorder:   app.Recorder,
			Logger:     app.Log,
			Metrics:    app.Metrics,
		})
		if err != nil {
			return err
		}

		if err := runDemo(ctx, users, app.Recorder, *id, *keep); err != nil {
			return err
		}

		records, err := app.Sink.QueryChanges(ctx, audit.Query{ItemID: *id})
		if errors.Is(err, sentinel.ErrNotImplemented) {
			fmt.Fprintf(out, "sink %q cannot be queried; records were handed to it directly\n", app.Config.Audit.Sink)
			return nil
		}
		if err != nil {
			return err
		}

		data, err := audit.ExportRecords(records, audit.ExportFormatNDJSON)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}

	return cmd
}

// runDemo adds, edits, soft deletes, restores and finally removes one user
func runDemo(ctx context.Context, users *lifecycle.Manager[*entity.User], recorder *audit.Recorder, id string, keep bool) error {
	email := "demo@example.com"
	user := &entity.User{
		Base:     entity.Base{ID: id},
		Username: "demo",
		Email:    &email,
		Password: "hunter2",
		Roles:    []string{"viewer"},
	}

	if _, err := users.Add(ctx, user, demoEditor); err != nil {
		return err
	}

	user.Roles = append(user.Roles, "editor")
	if _, err := users.Update(ctx, user, demoEditor, false); err != nil {
		return err
	}

	patched, err := users.Patch(ctx, id, []byte(`{"email":"demo+patched@example.com"}`))
	if err != nil {
		return err
	}
	if _, err := users.Update(ctx, patched, demoEditor, false); err != nil {
		return err
	}

	if err := users.Delete(ctx, id, demoEditor); err != nil {
		return err
	}
	if err := users.Restore(ctx, id, demoEditor); err != nil {
		return err
	}

	editor := demoEditor
	if _, err := recorder.LogEvent(ctx, audit.LevelInfo, "demo lifecycle completed", &editor, &id); err != nil {
		return err
	}

	if keep {
		return nil
	}
	return users.Remove(ctx, id, demoEditor, true)
}
