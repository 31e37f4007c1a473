// Command ubicli formats a flat file as a UBI partition and drives it
// through the core: create volumes, write/read LEBs, reclaim dirty PEBs.
// Adapted from the teacher's main.go (a log.Printf-driven demo of
// manager.New + schema.Schema), reworked as a proper cobra CLI since the
// device surface here has more than one verb worth a subcommand.
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dot5enko/ubi-core/device"
	"github.com/dot5enko/ubi-core/mtd"
	"github.com/dot5enko/ubi-core/ubierrs"
	"github.com/dot5enko/ubi-core/volume"
	"github.com/dot5enko/ubi-core/wire"
)

var (
	partitionPath  string
	partitionSize  int64
	eraseBlockSize int64
	writeBlockSize int
	compress       bool
)

func openDevice() (*device.UbiDevice, error) {
	m, err := mtd.OpenFile(partitionPath, mtd.Info{
		PartitionSize:  partitionSize,
		EraseBlockSize: eraseBlockSize,
		WriteBlockSize: writeBlockSize,
	})
	if err != nil {
		return nil, fmt.Errorf("open mtd: %w", err)
	}
	return device.Init(m, device.Config{CompressPayloads: compress})
}

func main() {
	root := &cobra.Command{
		Use:   "ubicli",
		Short: "Drive a UBI-formatted flat file from the command line",
	}
	root.PersistentFlags().StringVar(&partitionPath, "partition", "ubi.img", "path to the backing flat file")
	root.PersistentFlags().Int64Var(&partitionSize, "partition-size", 16*8192, "partition size in bytes")
	root.PersistentFlags().Int64Var(&eraseBlockSize, "erase-block-size", 8192, "erase block size in bytes")
	root.PersistentFlags().IntVar(&writeBlockSize, "write-block-size", 16, "hardware write alignment in bytes")
	root.PersistentFlags().BoolVar(&compress, "compress", false, "enable optional lz4 payload compression")

	root.AddCommand(formatCmd(), infoCmd(), createVolumeCmd(), writeCmd(), readCmd(), reclaimCmd())

	if err := root.Execute(); err != nil {
		color.Red("error: %v", err)
		os.Exit(1)
	}
}

func formatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "format",
		Short: "Format or mount the partition, printing its resulting state",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDevice()
			if err != nil {
				return err
			}
			defer d.Deinit()
			info := d.GetInfo()
			color.Green("mounted %s: %d LEBs of %d bytes, %d free, %d dirty, %d bad, %d volumes",
				partitionPath, info.LebTotalCount, info.LebSize, info.Free, info.Dirty, info.Bad, info.Volumes)
			return nil
		},
	}
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print device and volume info",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDevice()
			if err != nil {
				return err
			}
			defer d.Deinit()
			info := d.GetInfo()
			fmt.Printf("leb_total=%d leb_size=%d free=%d dirty=%d bad=%d allocated=%d volumes=%d\n",
				info.LebTotalCount, info.LebSize, info.Free, info.Dirty, info.Bad, info.Allocated, info.Volumes)
			for bucket, n := range d.ECHistogram() {
				fmt.Printf("ec_bucket[2^%d]=%d\n", bucket, n)
			}
			return nil
		},
	}
}

func createVolumeCmd() *cobra.Command {
	var name string
	var lebCount uint32
	var static bool
	cmd := &cobra.Command{
		Use:   "create-volume",
		Short: "Create a volume",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDevice()
			if err != nil {
				return err
			}
			defer d.Deinit()

			vt := wire.VolTypeDynamic
			if static {
				vt = wire.VolTypeStatic
			}
			volID, err := d.VolumeCreate(volume.Config{Name: name, Type: vt, LebCount: lebCount})
			if err != nil {
				return fmt.Errorf("create-volume: %w", err)
			}
			info, _ := d.VolumeGetInfo(volID)
			color.Green("created volume %q: vol_id=%d uid=%s", name, volID, info.DebugUID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "volume name")
	cmd.Flags().Uint32Var(&lebCount, "leb-count", 1, "number of LEBs")
	cmd.Flags().BoolVar(&static, "static", false, "create a static volume instead of dynamic")
	cmd.MarkFlagRequired("name")
	return cmd
}

func writeCmd() *cobra.Command {
	var volID uint32
	var lnum uint32
	cmd := &cobra.Command{
		Use:   "write <data>",
		Short: "Write data to an LEB",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDevice()
			if err != nil {
				return err
			}
			defer d.Deinit()
			if err := d.LebWrite(volID, lnum, []byte(args[0])); err != nil {
				if ubierrs.CodeOf(err) == ubierrs.ENOSPC {
					color.Yellow("no room for that write")
				}
				return fmt.Errorf("write: %w", err)
			}
			color.Green("wrote %d bytes to vol=%d lnum=%d", len(args[0]), volID, lnum)
			return nil
		},
	}
	cmd.Flags().Uint32Var(&volID, "vol", 0, "volume id")
	cmd.Flags().Uint32Var(&lnum, "lnum", 0, "logical erase block number")
	return cmd
}

func readCmd() *cobra.Command {
	var volID uint32
	var lnum uint32
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read an LEB and print it",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDevice()
			if err != nil {
				return err
			}
			defer d.Deinit()
			size, err := d.LebGetSize(volID, lnum)
			if err != nil {
				return fmt.Errorf("read: %w", err)
			}
			buf := make([]byte, size)
			if err := d.LebRead(volID, lnum, 0, buf); err != nil {
				return fmt.Errorf("read: %w", err)
			}
			fmt.Println(string(buf))
			return nil
		},
	}
	cmd.Flags().Uint32Var(&volID, "vol", 0, "volume id")
	cmd.Flags().Uint32Var(&lnum, "lnum", 0, "logical erase block number")
	return cmd
}

func reclaimCmd() *cobra.Command {
	var times int
	cmd := &cobra.Command{
		Use:   "reclaim",
		Short: "Reclaim dirty PEBs back into the free pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDevice()
			if err != nil {
				return err
			}
			defer d.Deinit()
			for i := 0; i < times; i++ {
				before := d.GetInfo().Dirty
				if err := d.EraseOnePeb(); err != nil {
					color.Red("reclaim %d/%d failed: %v", i+1, times, err)
					continue
				}
				if d.GetInfo().Dirty == before {
					log.Printf("nothing left to reclaim after %d/%d calls", i+1, times)
					break
				}
			}
			color.Green("reclaim done: " + strconv.Itoa(d.GetInfo().Free) + " free")
			return nil
		},
	}
	cmd.Flags().IntVar(&times, "times", 1, "number of PEBs to reclaim")
	return cmd
}
