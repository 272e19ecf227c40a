package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/profile-enrich/internal/config"
	"github.com/sells-group/profile-enrich/internal/store"
)

const exportSheet = "Profiles"

var exportHeaders = []string{
	"Subject ID", "Guest", "Handle", "Full Name", "Headline", "Job Title",
	"Company", "Location", "LinkedIn URL", "Connections", "Followers", "Refreshed At",
}

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write found profiles to an xlsx workbook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate(config.ModeStore); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		profiles, err := st.ListFoundProfiles(ctx)
		if err != nil {
			return eris.Wrap(err, "export")
		}
		if err := writeProfilesXLSX(exportOut, profiles); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Wrote %d profile(s) to %s\n", len(profiles), exportOut)
		return nil
	},
}

// writeProfilesXLSX saves profiles as a single-sheet workbook at path.
func writeProfilesXLSX(path string, profiles []store.FoundProfile) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(exportSheet)
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range exportHeaders {
		header.AddCell().SetString(h)
	}

	for _, p := range profiles {
		row := sheet.AddRow()
		for _, v := range []string{
			p.SubjectID, p.GuestName, p.Handle, p.FullName, p.Headline, p.JobTitle,
			p.CompanyName, p.Location, p.LinkedinURL,
			optInt(p.Connections), optInt(p.Followers),
			p.LastRefreshedAt.UTC().Format("2006-01-02 15:04:05"),
		} {
			row.AddCell().SetString(v)
		}
	}

	return eris.Wrapf(f.Save(path), "export: save %s", path)
}

func optInt(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "profiles.xlsx", "output workbook path")
	rootCmd.AddCommand(exportCmd)
}
