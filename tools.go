package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/urfave/cli"
	"github.com/yourusername/gearmarket/services"
)

// CheckCommand registers the check cli command.
var CheckCommand = cli.Command{
	Name:      "check",
	Usage:     "Runs nicknames through the nickname policy",
	ArgsUsage: "<nickname>...",
	Action:    checkAction,
}

// NormalizeCommand registers the normalize cli command.
var NormalizeCommand = cli.Command{
	Name:      "normalize",
	Usage:     "Prints the normalized form used for matching and uniqueness",
	ArgsUsage: "<text>...",
	Action:    normalizeAction,
}

// SanitizeCommand registers the sanitize cli command.
var SanitizeCommand = cli.Command{
	Name:      "sanitize",
	Usage:     "Strips characters a nickname may not contain",
	ArgsUsage: "<text>...",
	Action:    sanitizeAction,
}

// BlocklistCommand registers the blocklist cli command.
var BlocklistCommand = cli.Command{
	Name:  "blocklist",
	Usage: "Shows the loaded block-list",
	Flags: []cli.Flag{
		cli.BoolFlag{
			Name:  "list, l",
			Usage: "print every normalized term",
		},
	},
	Action: blocklistAction,
}

func loadPolicy(ctx *cli.Context) (*services.NicknamePolicy, error) {
	config, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	blocklist, err := services.LoadBlockList(context.Background(), config.Nickname, config.Storage.S3())
	if err != nil {
		return nil, err
	}
	return services.NewNicknamePolicy(blocklist, config.Nickname), nil
}

func checkAction(ctx *cli.Context) error {
	if !ctx.Args().Present() {
		return cli.ShowCommandHelp(ctx, "check")
	}
	policy, err := loadPolicy(ctx)
	if err != nil {
		return err
	}

	w := ctx.App.Writer
	rejected := 0
	for _, nickname := range ctx.Args() {
		err := policy.Validate(nickname)
		if err == nil {
			fmt.Fprintf(w, "%s\tok\n", nickname)
			continue
		}
		rejected++
		if term, ok := policy.Blocklist().Match(nickname); ok {
			match := "contains"
			if policy.Blocklist().Has(nickname) {
				match = "exact"
			}
			fmt.Fprintf(w, "%s\t%s (%s %q)\n", nickname, services.Reason(err), match, term)
		} else {
			fmt.Fprintf(w, "%s\t%s\n", nickname, services.Reason(err))
		}
	}
	fmt.Fprintf(w, "checked %s, %d rejected\n", english.Plural(len(ctx.Args()), "nickname", "nicknames"), rejected)
	return nil
}

func normalizeAction(ctx *cli.Context) error {
	for _, s := range ctx.Args() {
		fmt.Fprintln(ctx.App.Writer, services.Normalize(s))
	}
	return nil
}

func sanitizeAction(ctx *cli.Context) error {
	for _, s := range ctx.Args() {
		fmt.Fprintln(ctx.App.Writer, services.SanitizeNicknameInput(s))
	}
	return nil
}

func blocklistAction(ctx *cli.Context) error {
	policy, err := loadPolicy(ctx)
	if err != nil {
		return err
	}
	blocklist := policy.Blocklist()
	if ctx.Bool("list") {
		for _, term := range blocklist.Terms() {
			fmt.Fprintln(ctx.App.Writer, term)
		}
	}
	fmt.Fprintf(ctx.App.Writer, "%s terms\n", humanize.Comma(int64(blocklist.Len())))
	return nil
}
