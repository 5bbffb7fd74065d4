package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/terra-clan/commitment-engine/internal/models"
	"github.com/terra-clan/commitment-engine/pkg/client"
)

// Context is passed to every command
type Context struct {
	Client *client.Client
	Out    io.Writer
}

func (c *Context) table() *tabwriter.Writer {
	return tabwriter.NewWriter(c.Out, 0, 4, 2, ' ', 0)
}

type ListCmd struct {
	Status string `help:"Filter by status (created, in_progress, completed)."`
	Limit  int    `help:"Maximum number of commitments." default:"50"`
	Offset int    `help:"Number of commitments to skip." default:"0"`
}

func (cmd *ListCmd) Run(ctx *Context) error {
	commitments, err := ctx.Client.ListCommitments(context.Background(), client.ListOptions{
		Status: cmd.Status,
		Limit:  cmd.Limit,
		Offset: cmd.Offset,
	})
	if err != nil {
		return err
	}

	if len(commitments) == 0 {
		fmt.Fprintln(ctx.Out, "No commitments found.")
		return nil
	}

	tw := ctx.table()
	fmt.Fprintln(tw, "ID\tNAME\tIMAGE\tDAYS\tSTATUS\tCREATED")
	for _, c := range commitments {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			c.ID, c.Name, c.ImageID, c.Timeframe, c.Status, c.CreatedAt.Format("2006-01-02"))
	}
	return tw.Flush()
}

type CreateCmd struct {
	Name        string `arg:"" help:"Commitment name."`
	Image       string `help:"Catalog image id." required:""`
	Days        int    `help:"Number of days to finish the image in." required:""`
	Description string `help:"Optional description."`
}

func (cmd *CreateCmd) Run(ctx *Context) error {
	c, err := ctx.Client.CreateCommitment(context.Background(), client.CreateCommitmentRequest{
		Name:        cmd.Name,
		Description: cmd.Description,
		Timeframe:   cmd.Days,
		ImageID:     cmd.Image,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(ctx.Out, "✓ Created commitment %s (%s, %d days)\n", c.ID, c.ImageID, c.Timeframe)
	return nil
}

type ShowCmd struct {
	ID string `arg:"" help:"Commitment id."`
}

func (cmd *ShowCmd) Run(ctx *Context) error {
	c, err := ctx.Client.GetCommitment(context.Background(), cmd.ID)
	if err != nil {
		return err
	}

	tw := ctx.table()
	fmt.Fprintf(tw, "ID:\t%s\n", c.ID)
	fmt.Fprintf(tw, "Name:\t%s\n", c.Name)
	if c.Description != "" {
		fmt.Fprintf(tw, "Description:\t%s\n", c.Description)
	}
	fmt.Fprintf(tw, "Image:\t%s\n", c.ImageID)
	fmt.Fprintf(tw, "Timeframe:\t%d days\n", c.Timeframe)
	fmt.Fprintf(tw, "Status:\t%s\n", c.Status)
	fmt.Fprintf(tw, "Created:\t%s\n", c.CreatedAt.Format("2006-01-02 15:04:05"))
	if c.CompletedAt != nil {
		fmt.Fprintf(tw, "Completed:\t%s\n", c.CompletedAt.Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}

type EntriesCmd struct {
	ID string `arg:"" help:"Commitment id."`
}

func (cmd *EntriesCmd) Run(ctx *Context) error {
	entries, err := ctx.Client.ListEntries(context.Background(), cmd.ID)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Fprintln(ctx.Out, "No progress yet.")
		return nil
	}

	tw := ctx.table()
	fmt.Fprintln(tw, "DAY\tDATE\tREGION\tCOLOR")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", e.Day, e.CompletedOn, e.RegionID, e.Color)
	}
	return tw.Flush()
}

type CompleteCmd struct {
	ID string `arg:"" help:"Commitment id."`
}

func (cmd *CompleteCmd) Run(ctx *Context) error {
	done, err := ctx.Client.CompleteToday(context.Background(), cmd.ID)
	switch {
	case client.HasCode(err, client.CodeAlreadyCompletedToday):
		fmt.Fprintln(ctx.Out, "Already completed today. Come back tomorrow.")
		return nil
	case client.HasCode(err, client.CodeAlreadyComplete):
		fmt.Fprintln(ctx.Out, "This commitment is already complete.")
		return nil
	case err != nil:
		return err
	}

	if len(done.Entries) == 0 {
		fmt.Fprintln(ctx.Out, "Nothing to fill in today.")
		return nil
	}

	fmt.Fprintf(ctx.Out, "✓ Day %d: filled %d regions (%s)\n", done.Day, len(done.Entries), regionList(done.Entries))
	if done.Completed {
		fmt.Fprintln(ctx.Out, "Image complete!")
	} else {
		fmt.Fprintf(ctx.Out, "%d regions remaining\n", done.Remaining)
	}
	return nil
}

type ProgressCmd struct {
	ID string `arg:"" help:"Commitment id."`
}

func (cmd *ProgressCmd) Run(ctx *Context) error {
	p, err := ctx.Client.Progress(context.Background(), cmd.ID)
	if err != nil {
		return err
	}

	fmt.Fprintf(ctx.Out, "%d/%d regions, day %d, today: %s\n", p.Completed, p.Total, p.LastDay, p.Today)

	tw := ctx.table()
	fmt.Fprintln(tw, "DAY\tPLANNED")
	for i, q := range p.Schedule {
		marker := ""
		if i+1 <= p.LastDay {
			marker = " ✓"
		}
		fmt.Fprintf(tw, "%d\t%d%s\n", i+1, q, marker)
	}
	return tw.Flush()
}

type WatchCmd struct {
	ID string `arg:"" help:"Commitment id."`
}

func (cmd *WatchCmd) Run(ctx *Context) error {
	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := ctx.Client.Watch(sigCtx, cmd.ID, func(ev client.Event) {
		switch ev.Type {
		case "connected":
			fmt.Fprintf(ctx.Out, "Watching %s (Ctrl+C to stop)\n", ev.CommitmentID)
		case "progress":
			fmt.Fprintf(ctx.Out, "Day %d (%s): %s, %d remaining\n", ev.Day, ev.Date, regionList(ev.Entries), ev.Remaining)
		}
	})
	if sigCtx.Err() != nil {
		return nil
	}
	return err
}

type ImagesCmd struct{}

func (cmd *ImagesCmd) Run(ctx *Context) error {
	images, err := ctx.Client.ListImages(context.Background())
	if err != nil {
		return err
	}

	tw := ctx.table()
	fmt.Fprintln(tw, "ID\tNAME\tREGIONS")
	for _, img := range images {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", img.ID, img.Name, img.TotalRegions)
	}
	return tw.Flush()
}

type ImageCmd struct {
	ID string `arg:"" help:"Image id."`
}

func (cmd *ImageCmd) Run(ctx *Context) error {
	img, err := ctx.Client.GetImage(context.Background(), cmd.ID)
	if err != nil {
		return err
	}

	fmt.Fprintf(ctx.Out, "%s (%s), %d regions\n", img.Name, img.ID, img.TotalRegions)

	ids := make([]int, 0, len(img.RegionColorMapping))
	for k := range img.RegionColorMapping {
		if id, err := strconv.Atoi(k); err == nil {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)

	tw := ctx.table()
	fmt.Fprintln(tw, "REGION\tCOLOR")
	for _, id := range ids {
		fmt.Fprintf(tw, "%d\t%s\n", id, img.RegionColorMapping[strconv.Itoa(id)])
	}
	return tw.Flush()
}

func regionList(entries []*models.ProgressEntry) string {
	ids := make([]int, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.RegionID)
	}
	sort.Ints(ids)

	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ", "
		}
		out += strconv.Itoa(id)
	}
	return out
}
