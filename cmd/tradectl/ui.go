package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"

	"github.com/marketsim/tradesim/internal/model"
	"github.com/marketsim/tradesim/internal/store"
)

var (
	accent  = color.New(color.FgCyan, color.Bold)
	success = color.New(color.FgGreen, color.Bold)
	warn    = color.New(color.FgYellow, color.Bold)
	danger  = color.New(color.FgRed, color.Bold)
	neutral = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printCatalog(ctx context.Context, st store.Store) error {
	for _, class := range model.Classes {
		assets, err := st.ListAssets(ctx, class)
		if err != nil {
			return err
		}
		accent.Printf("%ss\n", class)
		if len(assets) == 0 {
			neutral.Println("  (none)")
			continue
		}
		for _, a := range assets {
			neutral.Printf("  %-8s %-18s %s\n", a.Symbol, a.Name, a.Price.String())
		}
	}
	fmt.Println()
	return nil
}
