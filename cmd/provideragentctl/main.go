// Command provideragentctl is the operator control plane for
// provideragentd, mirroring cmd/lncli's thin RPC-backed CLI.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli"
	"google.golang.org/grpc"
)

const defaultRPCHostPort = "127.0.0.1:9333"

// getEarningsResponse mirrors provideragentd's admin wire type; duplicated
// here rather than imported since the daemon's admin.go lives in package
// main and exports nothing for a client to consume directly.
type getEarningsResponse struct {
	Earnings string `protobuf:"bytes,1,opt,name=earnings"`
}

func (m *getEarningsResponse) Reset()         { *m = getEarningsResponse{} }
func (m *getEarningsResponse) String() string { return fmt.Sprintf("%+v", *m) }
func (*getEarningsResponse) ProtoMessage()     {}

type emptyRequest struct{}

func (m *emptyRequest) Reset()         { *m = emptyRequest{} }
func (m *emptyRequest) String() string { return "" }
func (*emptyRequest) ProtoMessage()     {}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[provideragentctl] %v\n", err)
	os.Exit(1)
}

func getClientConn(ctx *cli.Context) *grpc.ClientConn {
	conn, err := grpc.Dial(ctx.GlobalString("rpcserver"), grpc.WithInsecure())
	if err != nil {
		fatal(err)
	}
	return conn
}

type backupStoreResponse struct {
	Path string `protobuf:"bytes,1,opt,name=path"`
}

func (m *backupStoreResponse) Reset()         { *m = backupStoreResponse{} }
func (m *backupStoreResponse) String() string { return fmt.Sprintf("%+v", *m) }
func (*backupStoreResponse) ProtoMessage()     {}

var backupCommand = cli.Command{
	Name:  "backup",
	Usage: "Trigger a hot-copy backup of the offer/demand store.",
	Action: func(c *cli.Context) error {
		conn := getClientConn(c)
		defer conn.Close()

		resp := &backupStoreResponse{}
		err := conn.Invoke(context.Background(), "/provideragent.Admin/BackupStore", &emptyRequest{}, resp)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("Backup written to %s\n", resp.Path)
		return nil
	},
}

var earningsCommand = cli.Command{
	Name:  "earnings",
	Usage: "Display cumulative settled earnings.",
	Action: func(c *cli.Context) error {
		conn := getClientConn(c)
		defer conn.Close()

		resp := &getEarningsResponse{}
		err := conn.Invoke(context.Background(), "/provideragent.Admin/GetEarnings", &emptyRequest{}, resp)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("Earnings: %s\n", resp.Earnings)
		return nil
	},
}

func main() {
	app := cli.NewApp()
	app.Name = "provideragentctl"
	app.Usage = "control plane for provideragentd"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "rpcserver",
			Value: defaultRPCHostPort,
			Usage: "host:port of the provideragentd admin endpoint",
		},
	}
	app.Commands = []cli.Command{
		earningsCommand,
		backupCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
