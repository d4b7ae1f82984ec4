package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/ibsim/internal/cli/output"
	"github.com/marmos91/ibsim/pkg/path"
)

var (
	saPathDevice string
	saPathPort   int
)

var saPathCmd = &cobra.Command{
	Use:   "sa-path",
	Short: "Show the path to the subnet administrator",
	Long: `Show the path MADs to the subnet administrator take from a port:
the SM LID and SL, QP1 with the well-known QKey, the index of the default
partition key and the packet lifetime.

Examples:
  ibsim sa-path
  ibsim sa-path --port 2 -o json`,
	Args: cobra.NoArgs,
	RunE: runSAPath,
}

func init() {
	saPathCmd.Flags().StringVar(&saPathDevice, "device", defaultDevice, "Device name")
	saPathCmd.Flags().IntVar(&saPathPort, "ib-port", 0, "Port number (0 selects the first port)")
}

type pathReport struct {
	EndPort        string `json:"end_port" yaml:"end_port"`
	DLID           uint16 `json:"dlid" yaml:"dlid"`
	SLID           uint16 `json:"slid" yaml:"slid"`
	SL             uint8  `json:"sl" yaml:"sl"`
	DQPN           uint32 `json:"dqpn" yaml:"dqpn"`
	SQPN           uint32 `json:"sqpn" yaml:"sqpn"`
	QKey           uint32 `json:"qkey" yaml:"qkey"`
	PKeyIndex      int    `json:"pkey_index" yaml:"pkey_index"`
	PacketLifeTime uint8  `json:"packet_life_time" yaml:"packet_life_time"`
	Timeout        string `json:"timeout" yaml:"timeout"`
	Retries        int    `json:"retries" yaml:"retries"`
}

func newPathReport(p *path.IBPath) pathReport {
	return pathReport{
		EndPort:        p.EndPort,
		DLID:           p.DLID,
		SLID:           p.SLID,
		SL:             p.SL,
		DQPN:           p.DQPN,
		SQPN:           p.SQPN,
		QKey:           p.QKey,
		PKeyIndex:      p.PKeyIndex,
		PacketLifeTime: p.PacketLifeTime,
		Timeout:        p.MADTimeout().String(),
		Retries:        p.RetryCount(),
	}
}

func runSAPath(cmd *cobra.Command, args []string) error {
	env, err := setup(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx := cmd.Context()
	ep, err := env.openPort(ctx, saPathDevice, saPathPort)
	if err != nil {
		return err
	}
	p, err := ep.SAPath(ctx)
	if err != nil {
		return err
	}

	r := newPathReport(p)
	if env.printer.Format() != output.FormatTable {
		return env.printer.Print(r)
	}
	env.printer.Printf("%s\n", p)
	return env.printer.Fields([]output.Field{
		{Label: "End port", Value: r.EndPort},
		{Label: "QKey", Value: fmt.Sprintf("0x%08x", r.QKey)},
		{Label: "Packet life time", Value: fmt.Sprintf("%d (%s)", r.PacketLifeTime, path.PacketLifeTimeDuration(r.PacketLifeTime))},
		{Label: "Timeout", Value: r.Timeout},
		{Label: "Retries", Value: fmt.Sprint(r.Retries)},
	})
}
