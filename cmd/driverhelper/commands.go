package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/MarcoPoloResearchLab/driverhelper/internal/auth"
	"github.com/MarcoPoloResearchLab/driverhelper/internal/config"
	"github.com/MarcoPoloResearchLab/driverhelper/internal/driver"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const dateLayout = "2006-01-02"

func newProfileCommand() *cobra.Command {
	profile := &cobra.Command{Use: "profile", Short: "Manage the driver profile"}
	profile.AddCommand(&cobra.Command{
		Use:   "set-name NAME",
		Short: "Create or rename the driver profile",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(cmd.Context(), cmd.OutOrStdout(), true, func(app *deviceApp) error {
				saved, err := app.store.SetProfileName(cmd.Context(), strings.Join(args, " "))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "profile: %s\n", saved.Name)
				return nil
			})
		},
	})
	return profile
}

func newMoneyCommand(name, short string, expense bool) *cobra.Command {
	var (
		amount      float64
		category    string
		description string
		source      string
		paymentMode string
		date        string
	)
	add := &cobra.Command{
		Use:   "add",
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			recordedOn, err := parseDate(date)
			if err != nil {
				return err
			}
			input := driver.MoneyInput{
				Amount:      amount,
				Category:    category,
				Description: description,
				RecordedOn:  recordedOn,
				Source:      source,
				PaymentMode: paymentMode,
			}
			return withDevice(cmd.Context(), cmd.OutOrStdout(), true, func(app *deviceApp) error {
				record := app.store.AddIncome
				if expense {
					record = app.store.AddExpense
				}
				entry, err := record(cmd.Context(), input)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %.2f (%s)\n", name, entry.ID, entry.Amount, entry.Category)
				return nil
			})
		},
	}
	add.Flags().Float64Var(&amount, "amount", 0, "Amount")
	add.Flags().StringVar(&category, "category", "", "Category")
	add.Flags().StringVar(&description, "description", "", "Free-form description")
	add.Flags().StringVar(&paymentMode, "payment-mode", "", "Payment mode (cash, upi, card)")
	add.Flags().StringVar(&date, "date", "", "Date as YYYY-MM-DD or RFC3339 (default now)")
	if !expense {
		add.Flags().StringVar(&source, "source", "", "Platform or source of the earning")
	}
	_ = add.MarkFlagRequired("amount")
	_ = add.MarkFlagRequired("category")

	parent := &cobra.Command{Use: name, Short: short}
	parent.AddCommand(add)
	return parent
}

func newNoteCommand() *cobra.Command {
	var title string
	add := &cobra.Command{
		Use:   "add BODY",
		Short: "Write a note",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(cmd.Context(), cmd.OutOrStdout(), true, func(app *deviceApp) error {
				note, err := app.store.AddNote(cmd.Context(), driver.NoteInput{Title: title, Body: strings.Join(args, " ")})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "note %s saved\n", note.ID)
				return nil
			})
		},
	}
	add.Flags().StringVar(&title, "title", "", "Note title")

	parent := &cobra.Command{Use: "note", Short: "Manage notes"}
	parent.AddCommand(add)
	return parent
}

func newHealthCommand() *cobra.Command {
	var (
		metric string
		value  float64
		unit   string
		notes  string
		date   string
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Log a health metric",
		RunE: func(cmd *cobra.Command, args []string) error {
			recordedOn, err := parseDate(date)
			if err != nil {
				return err
			}
			return withDevice(cmd.Context(), cmd.OutOrStdout(), true, func(app *deviceApp) error {
				entry, err := app.store.AddHealthRecord(cmd.Context(), driver.HealthInput{
					Metric:     metric,
					Value:      value,
					Unit:       unit,
					RecordedOn: recordedOn,
					Notes:      notes,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %g %s\n", entry.Metric, entry.Value, entry.Unit)
				return nil
			})
		},
	}
	add.Flags().StringVar(&metric, "metric", "", "Metric name (sleep, water, steps)")
	add.Flags().Float64Var(&value, "value", 0, "Measured value")
	add.Flags().StringVar(&unit, "unit", "", "Unit")
	add.Flags().StringVar(&notes, "notes", "", "Notes")
	add.Flags().StringVar(&date, "date", "", "Date as YYYY-MM-DD or RFC3339 (default now)")
	_ = add.MarkFlagRequired("metric")

	parent := &cobra.Command{Use: "health", Short: "Manage health logs"}
	parent.AddCommand(add)
	return parent
}

func newPostCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "post MESSAGE",
		Short: "Share a message with the community feed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(cmd.Context(), cmd.OutOrStdout(), true, func(app *deviceApp) error {
				post, err := app.store.AddCommunityPost(cmd.Context(), strings.Join(args, " "))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "posted as %s\n", post.Author)
				return nil
			})
		},
	}
}

func newReminderCommand() *cobra.Command {
	var due string
	add := &cobra.Command{
		Use:   "add TITLE",
		Short: "Add a reminder",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dueOn, err := parseDate(due)
			if err != nil {
				return err
			}
			if dueOn.IsZero() {
				return fmt.Errorf("--due is required")
			}
			return withDevice(cmd.Context(), cmd.OutOrStdout(), true, func(app *deviceApp) error {
				reminder, err := app.store.AddReminder(cmd.Context(), driver.ReminderInput{Title: strings.Join(args, " "), DueOn: dueOn})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reminder %s due %s\n", reminder.ID, reminder.DueOn.Format(dateLayout))
				return nil
			})
		},
	}
	add.Flags().StringVar(&due, "due", "", "Due date as YYYY-MM-DD or RFC3339")

	var undo bool
	toggle := &cobra.Command{
		Use:   "toggle ID",
		Short: "Mark a reminder done (or not done with --undo)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(cmd.Context(), cmd.OutOrStdout(), true, func(app *deviceApp) error {
				return app.store.ToggleReminder(cmd.Context(), args[0], !undo)
			})
		},
	}
	toggle.Flags().BoolVar(&undo, "undo", false, "Mark the reminder as not completed")

	parent := &cobra.Command{Use: "reminder", Short: "Manage reminders"}
	parent.AddCommand(add, toggle)
	return parent
}

func newSOSCommand() *cobra.Command {
	var (
		name     string
		phone    string
		relation string
	)
	contact := &cobra.Command{
		Use:   "contact",
		Short: "Add an emergency contact",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(cmd.Context(), cmd.OutOrStdout(), true, func(app *deviceApp) error {
				saved, err := app.store.AddSOSContact(cmd.Context(), driver.ContactInput{Name: name, Phone: phone, Relation: relation})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "contact %s: %s\n", saved.Name, saved.Phone)
				return nil
			})
		},
	}
	contact.Flags().StringVar(&name, "name", "", "Contact name")
	contact.Flags().StringVar(&phone, "phone", "", "Phone number")
	contact.Flags().StringVar(&relation, "relation", "", "Relation to the driver")

	var (
		lat   float64
		lng   float64
		notes string
	)
	trigger := &cobra.Command{
		Use:   "trigger",
		Short: "Record an SOS event",
		RunE: func(cmd *cobra.Command, args []string) error {
			input := driver.SOSEventInput{Notes: notes}
			if cmd.Flags().Changed("lat") && cmd.Flags().Changed("lng") {
				input.LocationLat = &lat
				input.LocationLng = &lng
			}
			return withDevice(cmd.Context(), cmd.OutOrStdout(), true, func(app *deviceApp) error {
				event, err := app.store.RecordSOSEvent(cmd.Context(), input)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "sos %s at %s\n", event.ID, event.TriggeredAt.Format(time.RFC3339))
				return nil
			})
		},
	}
	trigger.Flags().Float64Var(&lat, "lat", 0, "Latitude")
	trigger.Flags().Float64Var(&lng, "lng", 0, "Longitude")
	trigger.Flags().StringVar(&notes, "notes", "", "Notes")

	parent := &cobra.Command{Use: "sos", Short: "Emergency contacts and events"}
	parent.AddCommand(contact, trigger)
	return parent
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show today's summary and sync state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(cmd.Context(), cmd.OutOrStdout(), false, func(app *deviceApp) error {
				printStatus(cmd.OutOrStdout(), app.store.Snapshot())
				return nil
			})
		},
	}
}

func printStatus(out io.Writer, snapshot driver.Snapshot) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	defer writer.Flush()

	name := "-"
	if snapshot.Profile != nil {
		name = snapshot.Profile.Name
	}
	lastSync := "never"
	if snapshot.LastSyncAt != nil {
		lastSync = snapshot.LastSyncAt.Local().Format(time.RFC3339)
	}
	fmt.Fprintf(writer, "Driver\t%s\n", name)
	fmt.Fprintf(writer, "Today's income\t%.2f\n", snapshot.Summary.TodayIncome)
	fmt.Fprintf(writer, "Today's expenses\t%.2f\n", snapshot.Summary.TodayExpenses)
	fmt.Fprintf(writer, "Pending reminders\t%d\n", snapshot.Summary.PendingReminders)
	fmt.Fprintf(writer, "Sync\t%s\n", snapshot.SyncStatus.Label())
	fmt.Fprintf(writer, "Pending changes\t%d\n", len(snapshot.Queue))
	fmt.Fprintf(writer, "Last sync\t%s\n", lastSync)
	if snapshot.Error != "" {
		fmt.Fprintf(writer, "Error\t%s\n", snapshot.Error)
	}
}

func newQueueCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "List changes waiting to sync, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(cmd.Context(), cmd.OutOrStdout(), false, func(app *deviceApp) error {
				writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				defer writer.Flush()
				fmt.Fprintln(writer, "ID\tTABLE\tRECORD\tACTION\tCREATED")
				for _, item := range app.store.Snapshot().Queue {
					fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n", item.ID, item.Table, item.RecordID, item.Action, item.CreatedAt.Local().Format(time.RFC3339))
				}
				return nil
			})
		},
	}
}

func newSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push pending changes now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(cmd.Context(), cmd.OutOrStdout(), false, func(app *deviceApp) error {
				if !app.prober.Check(cmd.Context()) {
					fmt.Fprintf(cmd.OutOrStdout(), "offline; %d change(s) pending\n", app.store.PendingCount())
					return nil
				}
				if err := app.store.SyncNow(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%d pending)\n", app.store.SyncStatus().Label(), app.store.PendingCount())
				return nil
			})
		},
	}
}

func newTokenCommand() *cobra.Command {
	var device string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a relay device token",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlag("auth.signing_secret", cmd.Flags().Lookup("signing-secret"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.SigningSecret),
				Issuer:        auth.DefaultIssuer,
				Audience:      auth.DefaultAudience,
				TokenTTL:      appConfig.TokenTTL,
			})
			if err != nil {
				return err
			}
			token, expiresIn, err := issuer.IssueDeviceToken(cmd.Context(), device)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires in %s\n", time.Duration(expiresIn)*time.Second)
			return nil
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "Device identifier embedded as the token subject")
	cmd.Flags().String("signing-secret", "", "Relay signing secret (overrides env)")
	_ = cmd.MarkFlagRequired("device")
	return cmd
}

// parseDate accepts a calendar date in local time or a full RFC3339 timestamp.
// An empty value yields the zero time.
func parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if parsed, err := time.ParseInLocation(dateLayout, value, time.Local); err == nil {
		return parsed, nil
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %s: use YYYY-MM-DD or RFC3339", strconv.Quote(value))
	}
	return parsed, nil
}
