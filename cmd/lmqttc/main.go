// Command lmqttc is a small command-line MQTT 3.1.1 client built on
// lmqttcore, structured the way xtaci-kcptun's client/server commands are:
// one urfave/cli.App with per-mode flags.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli"

	"github.com/gonzalop/lmqttcore"
	"github.com/gonzalop/lmqttcore/examples/netio"
	"github.com/gonzalop/lmqttcore/internal/discolog"
	"github.com/gonzalop/lmqttcore/internal/store"
	"github.com/gonzalop/lmqttcore/internal/strref"
)

// VERSION is injected by build flags.
var VERSION = "SELFBUILD"

// loadedConfig holds the values read from --config, if any. applyConfigFile
// populates it before any command runs; broker/id/keepalive/timeout fall
// back to it whenever the matching flag wasn't explicitly set.
var loadedConfig fileConfig

func applyConfigFile(c *cli.Context) error {
	cfg, err := loadConfigFile(c.GlobalString("config"))
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("reading config file: %v", err), 1)
	}
	loadedConfig = *cfg
	return nil
}

func brokerAddr(c *cli.Context) string {
	if !c.GlobalIsSet("broker") && loadedConfig.Broker != "" {
		return loadedConfig.Broker
	}
	return c.GlobalString("broker")
}

func clientID(c *cli.Context) string {
	if !c.GlobalIsSet("id") && loadedConfig.ClientID != "" {
		return loadedConfig.ClientID
	}
	return c.GlobalString("id")
}

func keepAliveSecs(c *cli.Context) int {
	if !c.GlobalIsSet("keepalive") && loadedConfig.KeepAlive != 0 {
		return loadedConfig.KeepAlive
	}
	return c.GlobalInt("keepalive")
}

func timeoutSecs(c *cli.Context) int {
	if !c.GlobalIsSet("timeout") && loadedConfig.Timeout != 0 {
		return loadedConfig.Timeout
	}
	return c.GlobalInt("timeout")
}

func main() {
	app := cli.NewApp()
	app.Name = "lmqttc"
	app.Usage = "minimal MQTT 3.1.1 command-line client"
	app.Version = VERSION
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Usage: "YAML config file with broker/client_id/keepalive/timeout defaults"},
		cli.StringFlag{Name: "broker, b", Value: "127.0.0.1:1883", Usage: "broker address, HOST:PORT"},
		cli.StringFlag{Name: "id, i", Value: "lmqttc", Usage: "MQTT client id"},
		cli.IntFlag{Name: "keepalive, k", Value: 30, Usage: "keep-alive interval in seconds"},
		cli.IntFlag{Name: "timeout, T", Value: 10, Usage: "acknowledgement timeout in seconds"},
		cli.BoolFlag{Name: "verbose, v", Usage: "enable debug logging"},
	}
	app.Before = applyConfigFile
	app.Commands = []cli.Command{
		{
			Name:      "pub",
			Usage:     "publish a single message and exit",
			ArgsUsage: "TOPIC PAYLOAD",
			Flags: []cli.Flag{
				cli.IntFlag{Name: "qos, q", Value: 0, Usage: "QoS level (0, 1 or 2)"},
			},
			Action: runPublish,
		},
		{
			Name:      "sub",
			Usage:     "subscribe to a topic filter and print incoming messages",
			ArgsUsage: "TOPIC",
			Flags: []cli.Flag{
				cli.IntFlag{Name: "qos, q", Value: 0, Usage: "requested QoS level"},
			},
			Action: runSubscribe,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newClient(c *cli.Context) (*lmqttcore.Client, *netio.Socket, error) {
	if c.GlobalBool("verbose") {
		discolog.SetDefault(discolog.New(&discolog.Config{Level: discolog.LevelDebug, Output: os.Stderr}))
	}

	broker := brokerAddr(c)
	sock, err := netio.Dial(broker)
	if err != nil {
		return nil, nil, err
	}

	client := lmqttcore.New(lmqttcore.Config{
		GetTime:         netio.GetTime,
		Read:            sock.Read,
		Write:           sock.Write,
		ConnectStoreBuf: make([]store.Entry, 0, 1),
		MainStoreBuf:    make([]store.Entry, 0, 16),
		RXBuf:           make([]byte, 4096),
		TXBuf:           make([]byte, 4096),
		IDSetBuf:        make([]uint16, 0, 16),
		Timeout:         uint32(timeoutSecs(c)),
	})

	req := &lmqttcore.Connect{
		ClientID:     strref.Bytes([]byte(clientID(c))),
		CleanSession: true,
		KeepAlive:    uint16(keepAliveSecs(c)),
	}
	if err := client.Connect(req, func(_ any, ok bool) {
		if ok {
			discolog.Info("connected", "broker", broker)
		} else {
			discolog.Warn("connect rejected")
		}
	}); err != nil {
		sock.Close()
		return nil, nil, err
	}
	return client, sock, nil
}

func runPublish(c *cli.Context) error {
	if c.NArg() < 2 {
		return cli.NewExitError("usage: lmqttc pub TOPIC PAYLOAD", 1)
	}
	topic := []byte(c.Args().Get(0))
	payload := []byte(c.Args().Get(1))

	client, sock, err := newClient(c)
	if err != nil {
		return err
	}
	defer sock.Close()

	done := false
	failed := false

	publishOnce := func() {
		pub := &lmqttcore.Publish{
			Topic:   strref.Bytes(topic),
			Payload: strref.Bytes(payload),
			QoS:     uint8(c.Int("qos")),
		}
		if err := client.Publish(pub, func(_ any, ok bool) {
			done = true
			failed = !ok
		}); err != nil {
			discolog.Error("publish failed", "err", err)
			failed = true
			done = true
		}
	}

	published := false
	for !done && client.State() != lmqttcore.StateFailed {
		if client.State() == lmqttcore.StateConnected && !published {
			published = true
			publishOnce()
		}
		status := client.RunOnce()
		if status.IsEOF() {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	if failed || client.State() == lmqttcore.StateFailed {
		return cli.NewExitError(fmt.Sprintf("publish failed: %v", client.LastError()), 1)
	}
	return nil
}

func runSubscribe(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.NewExitError("usage: lmqttc sub TOPIC", 1)
	}
	filter := []byte(c.Args().Get(0))

	var topicBuf [512]byte
	var payloadBuf [65536]byte

	broker := brokerAddr(c)
	sock, err := netio.Dial(broker)
	if err != nil {
		return err
	}
	defer sock.Close()

	client := lmqttcore.New(lmqttcore.Config{
		GetTime:         netio.GetTime,
		Read:            sock.Read,
		Write:           sock.Write,
		ConnectStoreBuf: make([]store.Entry, 0, 1),
		MainStoreBuf:    make([]store.Entry, 0, 16),
		RXBuf:           make([]byte, 65536),
		TXBuf:           make([]byte, 4096),
		IDSetBuf:        make([]uint16, 0, 32),
		Timeout:         uint32(timeoutSecs(c)),
		Publish: lmqttcore.PublishCallbacks{
			AllocateTopic: func(p *lmqttcore.Publish, length int) lmqttcore.AllocateResult {
				if length > len(topicBuf) {
					return lmqttcore.AllocateIgnore
				}
				p.Topic.Buf = topicBuf[:length]
				return lmqttcore.AllocateSuccess
			},
			AllocatePayload: func(p *lmqttcore.Publish, length int) lmqttcore.AllocateResult {
				if length > len(payloadBuf) {
					return lmqttcore.AllocateIgnore
				}
				p.Payload.Buf = payloadBuf[:length]
				return lmqttcore.AllocateSuccess
			},
			OnPublish: func(p *lmqttcore.Publish) bool {
				fmt.Printf("%s: %s\n", p.Topic.Buf, p.Payload.Buf)
				return true
			},
		},
	})

	req := &lmqttcore.Connect{
		ClientID:     strref.Bytes([]byte(clientID(c))),
		CleanSession: true,
		KeepAlive:    uint16(keepAliveSecs(c)),
	}

	subscribed := false
	if err := client.Connect(req, nil); err != nil {
		return err
	}

	for client.State() != lmqttcore.StateFailed {
		if client.State() == lmqttcore.StateConnected && !subscribed {
			subscribed = true
			sub := &lmqttcore.Subscribe{Subscriptions: []lmqttcore.Subscription{
				{Topic: strref.Bytes(filter), QoS: uint8(c.Int("qos"))},
			}}
			if err := client.Subscribe(sub, nil); err != nil {
				return err
			}
		}
		status := client.RunOnce()
		if status.IsEOF() {
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}

	return cli.NewExitError(fmt.Sprintf("client failed: %v", client.LastError()), 1)
}
