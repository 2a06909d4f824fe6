package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/twinleaf/tio/cmn"
	"github.com/twinleaf/tio/firmware"
)

var imageFlag = cli.StringFlag{Name: "image", Usage: "firmware image file", Required: true}

var firmwareUpgradeCmd = cli.Command{
	Name:      "firmware-upgrade",
	Usage:     "upload a firmware image to a device and apply it (§4.8)",
	ArgsUsage: " ",
	Flags:     []cli.Flag{urlFlag, routeFlag, timeoutFlag, imageFlag},
	Action:    firmwareUpgradeAction,
}

func firmwareUpgradeAction(c *cli.Context) error {
	image, err := os.ReadFile(c.String(imageFlag.Name))
	if err != nil {
		err = cmn.WrapError(cmn.ErrExport, err, "read firmware image %s", c.String(imageFlag.Name))
		printErr(err)
		return err
	}

	ctx := context.Background()
	p, client, err := openRPC(ctx, c)
	if err != nil {
		printErr(err)
		return err
	}
	defer p.Close()
	defer client.Close()

	onProgress := func(pr firmware.Progress) {
		fmt.Printf("\r%s %d/%d chunks", fcyan("uploading"), pr.SentChunks, pr.TotalChunks)
	}
	if err := firmware.Upload(ctx, client, image, onProgress); err != nil {
		fmt.Println()
		printErr(err)
		return err
	}
	fmt.Println()
	fmt.Println(fgreen("firmware upgrade applied"))
	return nil
}
