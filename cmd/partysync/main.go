package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raidtools/partysync/internal/client"
	"github.com/raidtools/partysync/internal/wire"
)

func main() {
	var (
		host string
		port int
		user string
		pass string
	)

	rootCmd := &cobra.Command{
		Use:   "partysync",
		Short: "Console client for the raid coordination backend",
		Long: `partysync is a line-oriented console client. It logs in with the
given credentials and reads commands from stdin:

  chat <msg>              broadcast a chat line
  trigger <id> [attr]     raise a trigger event
  afk | back              toggle the AFK flag
  adduser <name> <pass>   create an account (admin)
  deluser <name>          remove an account (admin)
  passwd <name> <pass>    change a password
  group <n>               set own group number
  update                  fetch a full client update
  quit                    log out and exit`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsole(host, port, user, pass)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&host, "host", "127.0.0.1", "server host")
	flags.IntVar(&port, "port", 53729, "server port")
	flags.StringVar(&user, "user", "", "account name")
	flags.StringVar(&pass, "pass", "", "account password")
	rootCmd.MarkFlagRequired("user")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// consoleEvents prints server traffic as it arrives.
type consoleEvents struct {
	client.NopEvents
}

func (consoleEvents) ConnectionEstablished() { fmt.Println("* connected") }
func (consoleEvents) ConnectionLost()        { fmt.Println("* connection lost") }
func (consoleEvents) Disconnected()          { fmt.Println("* disconnected") }
func (consoleEvents) TryingToReconnect()     { fmt.Println("* reconnecting...") }
func (consoleEvents) LoginFailed()           { fmt.Println("* login failed") }

func (consoleEvents) PacketReceived(pkt *wire.Packet) {
	switch c := pkt.Content.(type) {
	case *wire.Message:
		fmt.Printf("[server] %s\n", c.Msg)
	case *wire.Chat:
		fmt.Printf("<%s> %s\n", c.Sender, c.Msg)
	case *wire.Roster:
		fmt.Printf("* online: %s\n", strings.Join(c.Names, ", "))
	case *wire.TriggerEvent:
		fmt.Printf("! trigger %d from %s %s\n", c.ID, c.Sender, c.Attr)
	case *wire.DpsParse:
		fmt.Printf("~ parse %q dps=%s\n", c.Title, c.Dps)
	}
}

func runConsole(host string, port int, user, pass string) error {
	conn := client.NewConnector(consoleEvents{}, client.Timings{})
	defer conn.Close()
	conn.Login(host, port, user, pass)

	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		cmd, rest := fields[0], fields[1:]
		var err error
		switch cmd {
		case "chat":
			err = conn.SendChat(wire.ChatToAll, strings.Join(rest, " "))
		case "trigger":
			if len(rest) == 0 {
				fmt.Println("usage: trigger <id> [attr]")
				continue
			}
			id, convErr := strconv.Atoi(rest[0])
			if convErr != nil {
				fmt.Println("bad trigger id")
				continue
			}
			err = conn.SendTriggerEvent(uint16(id), strings.Join(rest[1:], " "))
		case "afk":
			err = conn.SendServerCmd(wire.CmdGoesAfk, "", "")
		case "back":
			err = conn.SendServerCmd(wire.CmdComesBack, "", "")
		case "adduser":
			if len(rest) != 2 {
				fmt.Println("usage: adduser <name> <pass>")
				continue
			}
			err = conn.SendAddUser(rest[0], rest[1])
		case "deluser":
			if len(rest) != 1 {
				fmt.Println("usage: deluser <name>")
				continue
			}
			err = conn.SendRemoveUser(rest[0])
		case "passwd":
			if len(rest) != 2 {
				fmt.Println("usage: passwd <name> <pass>")
				continue
			}
			err = conn.SendChangePassword(rest[0], rest[1])
		case "group":
			if len(rest) != 1 {
				fmt.Println("usage: group <n>")
				continue
			}
			err = conn.SendServerCmd(wire.CmdSetGroupNumber, rest[0], "")
		case "update":
			err = conn.RequestUpdate(wire.TypeGetUpdateAll)
		case "quit":
			conn.Logout()
			return nil
		default:
			fmt.Printf("unknown command %q\n", cmd)
			continue
		}
		if err != nil {
			fmt.Printf("! send failed: %v\n", err)
		}
	}
	return sc.Err()
}
