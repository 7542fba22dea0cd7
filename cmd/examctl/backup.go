package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-kiosk/internal/config"
	"github.com/stemsi/exstem-kiosk/internal/localstore"
	"github.com/tidwall/gjson"
)

func newBackupCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Inspect per-session answer backups",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "List sessions with unsynced edits on this device",
		RunE: func(cmd *cobra.Command, args []string) error {
			local, closeLocal, err := a.openLocal(cmd.Context())
			if err != nil {
				return err
			}
			defer closeLocal()

			lister, ok := local.(localstore.Lister)
			if !ok {
				return fmt.Errorf("local store %q cannot list keys", a.cfg.LocalStore)
			}
			keys, err := lister.Keys(config.StorageKey.AnswerBackupPrefix())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SCHEDULE\tEXAMINEE\tCHANGES\tATTEMPT\tSTATUS")
			for _, key := range keys {
				if !config.StorageKey.IsAnswerBackupKey(key) {
					continue
				}
				raw, found, err := local.Get(key)
				if err != nil || !found {
					continue
				}
				if !gjson.ValidBytes(raw) {
					fmt.Fprintf(w, "%s\t-\t-\t-\tcorrupt\n", key)
					continue
				}
				doc := gjson.ParseBytes(raw)
				first := doc.Get("changes.0")
				fmt.Fprintf(w, "%s\t%d\t%d\t%t\t%s\n",
					first.Get("schedule_id").String(),
					first.Get("examinee_id").Int(),
					doc.Get("changes.#").Int(),
					doc.Get("attempt").Exists(),
					doc.Get("attempt.status").String(),
				)
			}
			return w.Flush()
		},
	})

	return cmd
}
