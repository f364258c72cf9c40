package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gwillem/armcollect/pkg/logging"
	"github.com/gwillem/armcollect/pkg/replay"
)

type ListCommand struct {
	Dir string `short:"d" long:"dir" description:"Recordings directory (default from config)"`
}

func (c *ListCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closer, err := newLogger(cfg.Log, false)
	if err != nil {
		return err
	}
	defer closer.Close()

	dir := cfg.Collect.DataDir
	if c.Dir != "" {
		dir = c.Dir
	}
	listOpts := replay.ListOptions{Logger: logger}
	if catalog, err := replay.OpenCatalog(cfg.Collect.CatalogFile()); err != nil {
		logger.Warn("recordings catalog unavailable", logging.Error(err))
	} else {
		defer catalog.Close()
		listOpts.Catalog = catalog
	}

	recs, err := replay.List(context.Background(), dir, listOpts)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Printf("No recordings in %s\n", dir)
		return nil
	}
	fmt.Println(recordingsTable(recs, time.Now()))
	return nil
}

func recordingsTable(recs []replay.Recording, now time.Time) string {
	p := message.NewPrinter(language.English)
	rows := make([][]string, 0, len(recs))
	totalSteps := 0
	for i, rec := range recs {
		steps := rec.TotalSteps()
		totalSteps += steps
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			rec.Date.Format("2006-01-02 15:04"),
			rec.EnvName,
			rec.ControlMethod,
			p.Sprintf("%d", rec.NumEpisodes),
			p.Sprintf("%d", steps),
			humanize.Bytes(uint64(rec.Size)),
			humanize.RelTime(rec.ModTime, now, "ago", "from now"),
			rec.Filename,
		})
	}
	out := renderTable(
		[]string{"#", "Date/Time", "Environment", "Method", "Episodes", "Steps", "Size", "Saved", "File"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft, alignLeft},
	)
	return out + "\n" + p.Sprintf("%d recordings, %d steps", len(recs), totalSteps)
}
