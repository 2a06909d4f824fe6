package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli"

	"github.com/twinleaf/tio/cmn"
	"github.com/twinleaf/tio/export/csv"
	"github.com/twinleaf/tio/export/hdf5"
	"github.com/twinleaf/tio/filter"
	"github.com/twinleaf/tio/proto"
	"github.com/twinleaf/tio/stream"
)

var outFlag = cli.StringFlag{Name: "out", Usage: "output file path", Required: true}
var inFlag = cli.StringFlag{Name: "in", Usage: "capture file written by `tio log`", Required: true}
var filterFlag = cli.StringFlag{Name: "filter", Usage: "column filter pattern, e.g. '**/accel_*' (§4.9)"}
var statFlag = cli.BoolFlag{Name: "stat", Usage: "every two seconds print the total decoded sample count and this port's drop count while logging"}
var splitFlag = cli.StringFlag{Name: "split", Value: "none", Usage: "HDF5 run split level: none, stream, device, global"}
var compressFlag = cli.BoolFlag{Name: "compress", Usage: "zstd-compress HDF5 chunk buffers"}

var logCmd = cli.Command{
	Name:      "log",
	Usage:     "capture raw packets under a route to a file for later replay",
	ArgsUsage: " ",
	Flags:     []cli.Flag{urlFlag, routeFlag, outFlag, statFlag},
	Action:    logAction,
}

func logAction(c *cli.Context) error {
	setupColor(c.GlobalBool(noColorFlag.Name))
	route, err := proto.ParseRoute(c.String(routeFlag.Name))
	if err != nil {
		printErr(err)
		return err
	}
	ctx := context.Background()
	p, err := withURL(ctx, c)
	if err != nil {
		printErr(err)
		return err
	}
	defer p.Close()

	lw, err := createLogFile(c.String(outFlag.Name))
	if err != nil {
		printErr(err)
		return err
	}
	defer lw.Close()

	port := p.OpenPort(route, false)
	defer port.Close()

	parser := stream.NewDeviceDataParser(false)
	var nSamples uint64
	var ticker *time.Ticker
	if c.Bool(statFlag.Name) {
		ticker = time.NewTicker(2 * time.Second)
		defer ticker.Stop()
	}

	for {
		if ticker != nil {
			select {
			case <-ticker.C:
				fmt.Printf("%s samples=%d drops=%d\n", fcyan("[stat]"), nSamples, port.Drops())
			default:
			}
		}
		pkt, err := port.Recv(ctx)
		if err != nil {
			printErr(err)
			return err
		}
		if err := lw.Write(pkt); err != nil {
			printErr(err)
			return err
		}
		if samples, err := parser.Handle(pkt); err == nil {
			nSamples += uint64(len(samples))
		}
	}
}

var logMetadataCmd = cli.Command{
	Name:      "log-metadata",
	Usage:     "replay a capture, printing every metadata packet in it (unchanged repeats included)",
	ArgsUsage: " ",
	Flags:     []cli.Flag{inFlag},
	Action:    logMetadataAction,
}

func logMetadataAction(c *cli.Context) error {
	r, closeFn, err := openLogFile(c.String(inFlag.Name))
	if err != nil {
		printErr(err)
		return err
	}
	defer closeFn()

	for {
		pkt, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			printErr(err)
			return err
		}
		switch v := pkt.Payload.(type) {
		case proto.DeviceMetadataPayload:
			fmt.Printf("%s device %s %+v\n", pkt.Routing, fyellow("metadata"), v.DeviceMetadata)
		case proto.StreamMetadataPayload:
			fmt.Printf("%s stream  %s %+v\n", pkt.Routing, fyellow("metadata"), v.StreamMetadata)
		case proto.SegmentMetadataPayload:
			fmt.Printf("%s segment %s %+v\n", pkt.Routing, fyellow("metadata"), v.SegmentMetadata)
		case proto.ColumnMetadataPayload:
			fmt.Printf("%s column  %s %+v\n", pkt.Routing, fyellow("metadata"), v.ColumnMetadata)
		}
	}
}

var logDumpCmd = cli.Command{
	Name:      "log-dump",
	Usage:     "replay a capture, printing every decoded sample",
	ArgsUsage: " ",
	Flags:     []cli.Flag{inFlag},
	Action:    logDumpAction,
}

func logDumpAction(c *cli.Context) error {
	r, closeFn, err := openLogFile(c.String(inFlag.Name))
	if err != nil {
		printErr(err)
		return err
	}
	defer closeFn()

	parser := stream.NewDeviceDataParser(false)
	for {
		pkt, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			printErr(err)
			return err
		}
		samples, err := parser.Handle(pkt)
		if err != nil {
			continue
		}
		for _, s := range samples {
			fmt.Printf("%s n=%d %v\n", pkt.Routing, s.N, s.Columns)
		}
	}
}

var logCSVCmd = cli.Command{
	Name:      "log-csv",
	Usage:     "replay a capture and export every sample to per-stream CSV files",
	ArgsUsage: " ",
	Flags:     []cli.Flag{inFlag, outFlag, filterFlag},
	Action:    logCSVAction,
}

func logCSVAction(c *cli.Context) error {
	r, closeFn, err := openLogFile(c.String(inFlag.Name))
	if err != nil {
		printErr(err)
		return err
	}
	defer closeFn()

	colFilter, err := compileFilter(c.String(filterFlag.Name))
	if err != nil {
		printErr(err)
		return err
	}

	w := csv.NewWriter(c.String(outFlag.Name))
	defer w.Close()

	parser := stream.NewDeviceDataParser(false)
	for {
		pkt, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			printErr(err)
			return err
		}
		samples, err := parser.Handle(pkt)
		if err != nil {
			continue
		}
		for _, s := range samples {
			if colFilter != nil {
				s = filterSample(colFilter, pkt.Routing, s)
			}
			if err := w.Write(s); err != nil {
				printErr(err)
				return err
			}
		}
	}
	return nil
}

var logHdfCmd = cli.Command{
	Name:      "log-hdf",
	Usage:     "replay a capture and export every sample to an embedded HDF5-subset file",
	ArgsUsage: " ",
	Flags:     []cli.Flag{inFlag, outFlag, filterFlag, splitFlag, compressFlag},
	Action:    logHdfAction,
}

func logHdfAction(c *cli.Context) error {
	r, closeFn, err := openLogFile(c.String(inFlag.Name))
	if err != nil {
		printErr(err)
		return err
	}
	defer closeFn()

	runCfg, err := loadConfig(c)
	if err != nil {
		printErr(err)
		return err
	}
	colFilter, err := compileFilter(c.String(filterFlag.Name))
	if err != nil {
		printErr(err)
		return err
	}

	cfg := hdf5.DefaultConfig()
	if runCfg.Export.BatchSize > 0 {
		cfg.BatchSize = runCfg.Export.BatchSize
	}
	cfg.Compress = c.Bool(compressFlag.Name)
	cfg.Filter = colFilter
	switch c.String(splitFlag.Name) {
	case "stream":
		cfg.SplitLevel = hdf5.SplitPerStream
	case "device":
		cfg.SplitLevel = hdf5.SplitPerDevice
	case "global":
		cfg.SplitLevel = hdf5.SplitGlobal
	}

	a, err := hdf5.Create(c.String(outFlag.Name), cfg)
	if err != nil {
		printErr(err)
		return err
	}

	parser := stream.NewDeviceDataParser(false)
	for {
		pkt, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			printErr(err)
			return err
		}
		samples, err := parser.Handle(pkt)
		if err != nil {
			continue
		}
		for _, s := range samples {
			key := stream.StreamKey{Route: pkt.Routing, StreamID: s.Stream.StreamID}
			if err := a.WriteSample(key, s); err != nil {
				printErr(err)
				return err
			}
		}
	}

	stats, err := a.Finish()
	if err != nil {
		printErr(err)
		return err
	}
	fmt.Printf("%s %d samples across %d streams\n", fgreen("exported"), stats.TotalSamples, len(stats.StreamsWritten))
	return nil
}

func compileFilter(pattern string) (*filter.ColumnFilter, error) {
	if pattern == "" {
		return nil, nil
	}
	f, err := filter.New(pattern)
	if err != nil {
		return nil, cmn.WrapError(cmn.ErrParse, err, "--filter %q", pattern)
	}
	return f, nil
}

// filterSample drops columns that don't match colFilter, used by log-csv
// (the HDF5 appender applies its own Config.Filter internally).
func filterSample(colFilter *filter.ColumnFilter, route proto.Route, s *stream.Sample) *stream.Sample {
	kept := make([]stream.ColumnValue, 0, len(s.Columns))
	for _, col := range s.Columns {
		if colFilter.Matches(route, s.Stream.Name, col.Desc.Name) {
			kept = append(kept, col)
		}
	}
	out := *s
	out.Columns = kept
	return &out
}
