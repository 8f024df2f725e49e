package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"character_wiki/internal/models"
	"character_wiki/internal/pager"

	"github.com/spf13/cobra"
)

var (
	fetchName  string
	fetchPages int
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Print characters to stdout, page by page",
	Long: `Fetch the first page of the listing (or of a name search), then keep
loading more pages until --pages pages are held or the listing ends.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runFetch(cmd.Context(), cmd.OutOrStdout(), newClient(cfg), fetchName, fetchPages)
	},
}

func init() {
	fetchCmd.Flags().StringVarP(&fetchName, "name", "n", "", "filter characters by name")
	fetchCmd.Flags().IntVarP(&fetchPages, "pages", "p", 1, "number of pages to load")
}

// lister - часть fetcher.Client, нужная команде fetch.
type lister interface {
	pager.Source
	Base() models.Cursor
}

func runFetch(ctx context.Context, out io.Writer, src lister, name string, pages int) error {
	acc := pager.New(src)

	var f *pager.Fetch
	var err error
	if name != "" {
		f, err = acc.Search(ctx, name)
	} else {
		f, err = acc.SetCursor(ctx, src.Base())
	}
	if err != nil {
		return err
	}
	if err := f.Wait(ctx); err != nil {
		return err
	}

	for loaded := 1; loaded < pages; loaded++ {
		f, err := acc.LoadMore(ctx)
		if errors.Is(err, pager.ErrNoNextPage) {
			break
		}
		if err != nil {
			return err
		}
		if err := f.Wait(ctx); err != nil {
			return err
		}
	}

	st := acc.Snapshot()
	for _, ch := range st.Items {
		fmt.Fprintf(out, "%d\t%s\t%s\n", ch.ID, ch.Name, ch.Image)
	}
	fmt.Fprintf(out, "# %d of %d characters, more: %t\n", len(st.Items), st.Count, st.HasMore)
	return nil
}
