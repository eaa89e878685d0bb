package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cerera/replicore/internal/cerera/cops"
	"github.com/cerera/replicore/internal/cerera/logger"
	"github.com/cerera/replicore/internal/cerera/netcore"
	"github.com/cerera/replicore/internal/cerera/pbft"
	"github.com/cerera/replicore/internal/cerera/replconfig"
	"github.com/cerera/replicore/internal/cerera/tcpnet"
	"github.com/chzyer/readline"
)

// session bundles whichever clients this replctl invocation managed to dial, mirroring
// cmd/cereractl's Cerera struct grouping a session's live components.
type session struct {
	pbftClient *pbft.Client
	copsClient *cops.Client
	selfAddr   netcore.Addr
}

func dialPBFT(ctx context.Context, cfg *replconfig.Config) (*pbft.Client, error) {
	addrs := make([]netcore.Addr, len(cfg.PBFT.ReplicaAddrs))
	conns := make([]*tcpnet.Conn, len(cfg.PBFT.ReplicaAddrs))
	for i, a := range cfg.PBFT.ReplicaAddrs {
		addrs[i] = netcore.Addr(a)
		conn, err := tcpnet.Dial(a, string(cfg.Net.PID))
		if err != nil {
			return nil, fmt.Errorf("dial replica %s: %w", a, err)
		}
		conns[i] = conn
	}
	net := pbft.NewTCPClientNet(addrs, conns)
	self := netcore.Addr(fmt.Sprintf("replctl-%d", os.Getpid()))
	client := pbft.NewClient(netcore.ClientID(os.Getpid()), self, pbft.ClientConfig{N: len(addrs), F: cfg.PBFT.NumFaulty}, net)
	go client.Run(ctx)
	for _, conn := range conns {
		go pbft.ServeClient(ctx, conn, client)
	}
	return client, nil
}

func dialCOPS(ctx context.Context, cfg *replconfig.Config) (*cops.Client, error) {
	if len(cfg.COPS.ReplicaAddrs) == 0 {
		return nil, fmt.Errorf("no cops replica addresses configured")
	}
	replicaAddr := netcore.Addr(cfg.COPS.ReplicaAddrs[0])
	conn, err := tcpnet.Dial(cfg.COPS.ReplicaAddrs[0], string(cfg.Net.PID))
	if err != nil {
		return nil, fmt.Errorf("dial cops replica %s: %w", cfg.COPS.ReplicaAddrs[0], err)
	}
	net := cops.NewTCPUnicastNet()
	net.Bind(replicaAddr, conn)
	self := netcore.Addr(fmt.Sprintf("replctl-cops-%d", os.Getpid()))
	client := cops.NewClient(netcore.ClientID(os.Getpid()), self, replicaAddr, net)
	go client.Run(ctx)
	go cops.ServeClient(ctx, conn, client)
	return client, nil
}

func main() {
	cfg := replconfig.Load("replconfig.json")
	cfg.Log.Service = "replctl"
	if _, err := logger.Init(cfg.LoggerConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sess := &session{}
	if len(cfg.PBFT.ReplicaAddrs) > 0 {
		client, err := dialPBFT(ctx, cfg)
		if err != nil {
			fmt.Printf("PBFT unavailable: %v\n", err)
		} else {
			sess.pbftClient = client
		}
	}
	if len(cfg.COPS.ReplicaAddrs) > 0 {
		client, err := dialCOPS(ctx, cfg)
		if err != nil {
			fmt.Printf("COPS unavailable: %v\n", err)
		} else {
			sess.copsClient = client
		}
	}

	rl, err := readline.New("replctl> ")
	if err != nil {
		panic(err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			break
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "invoke":
			if sess.pbftClient == nil {
				fmt.Println("no pbft client configured")
				continue
			}
			if len(fields) < 2 {
				fmt.Println("usage: invoke <op>")
				continue
			}
			invokeCtx, invokeCancel := context.WithTimeout(ctx, 5*time.Second)
			result, err := sess.pbftClient.Invoke(invokeCtx, []byte(strings.Join(fields[1:], " ")))
			invokeCancel()
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Println(string(result))
		case "get":
			if sess.copsClient == nil {
				fmt.Println("no cops client configured")
				continue
			}
			if len(fields) != 2 {
				fmt.Println("usage: get <key>")
				continue
			}
			getCtx, getCancel := context.WithTimeout(ctx, 5*time.Second)
			val, err := sess.copsClient.Read(getCtx, cops.KeyID(fields[1]))
			getCancel()
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Println(string(val))
		case "put":
			if sess.copsClient == nil {
				fmt.Println("no cops client configured")
				continue
			}
			if len(fields) != 3 {
				fmt.Println("usage: put <key> <value>")
				continue
			}
			putCtx, putCancel := context.WithTimeout(ctx, 5*time.Second)
			err := sess.copsClient.Update(putCtx, cops.KeyID(fields[1]), []byte(fields[2]))
			putCancel()
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Println("ok")
		case "status":
			fmt.Printf("pbft replicas: %s\n", strings.Join(cfg.PBFT.ReplicaAddrs, ","))
			fmt.Printf("cops replicas: %s\n", strings.Join(cfg.COPS.ReplicaAddrs, ","))
			fmt.Printf("pbft n/f: %d/%d\n", len(cfg.PBFT.ReplicaAddrs), cfg.PBFT.NumFaulty)
		case "help":
			fmt.Print(Usage())
		case "exit":
			return
		default:
			fmt.Println(unknownCommand(fields[0]))
		}
	}
}
