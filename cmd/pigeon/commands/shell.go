package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"pigeon/internal/client"
	"pigeon/internal/domain"
)

// printMessage renders an inbound chat message. Runs on the tunnel delivery
// goroutine.
func printMessage(from, text string) {
	fmt.Println(messageStyle.Render(from+">"), text)
}

// printStatus renders a pushed roster change.
func printStatus(user domain.RemoteUser) {
	fmt.Println(mutedStyle.Render(fmt.Sprintf("* %s is now %s", user.Username, user.Status)))
}

// runShell drives the interactive session until quit or EOF.
func runShell(f *client.Facade) error {
	fmt.Println(headerStyle.Render("pigeon"), mutedStyle.Render("logged in as "+f.Username()+", type 'help' for commands"))

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(promptStyle.Render("> "))
		if !scanner.Scan() {
			break
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "quit", "exit":
			return f.Disconnect()
		case "help":
			printHelp()
		default:
			if err := dispatch(f, fields); err != nil {
				fmt.Println(errorStyle.Render("error: " + err.Error()))
			}
		}
	}
	return f.Disconnect()
}

func dispatch(f *client.Facade, fields []string) error {
	switch cmd := fields[0]; cmd {
	case "friends":
		var filter domain.StatusType
		if len(fields) > 1 {
			filter = domain.StatusType(fields[1])
			if !filter.Valid() {
				return fmt.Errorf("unknown status %q", fields[1])
			}
		}
		users, err := f.RetrieveFriends(filter)
		if err != nil {
			return err
		}
		if len(users) == 0 {
			fmt.Println(mutedStyle.Render("nobody here yet"))
			return nil
		}
		for _, user := range users {
			fmt.Println(friendStyle.Render(user.Username), mutedStyle.Render(string(user.Status)))
		}
		return nil

	case "request", "accept", "reject", "end", "chat":
		if len(fields) != 2 {
			return fmt.Errorf("usage: %s <username>", cmd)
		}
		return peerCommand(f, cmd, fields[1])

	case "send":
		if len(fields) < 3 {
			return fmt.Errorf("usage: send <username> <message>")
		}
		return f.SendMessage(fields[1], strings.Join(fields[2:], " "))

	case "passwd":
		current, err := readPassword("current password")
		if err != nil {
			return err
		}
		password = "" // force a prompt for the new one
		updated, err := readPassword("new password")
		if err != nil {
			return err
		}
		if err := f.UpdatePassword(current, updated); err != nil {
			return err
		}
		fmt.Println(mutedStyle.Render("password updated"))
		return nil

	default:
		return fmt.Errorf("unknown command %q, type 'help'", cmd)
	}
}

func peerCommand(f *client.Facade, cmd, peer string) error {
	switch cmd {
	case "request":
		if err := f.RequestFriendship(peer); err != nil {
			return err
		}
		fmt.Println(mutedStyle.Render("request sent to " + peer))
	case "accept":
		online, err := f.AcceptFriendship(peer)
		if err != nil {
			return err
		}
		if online {
			fmt.Println(friendStyle.Render(peer + " accepted, online now"))
		} else {
			fmt.Println(friendStyle.Render(peer + " accepted, currently offline"))
		}
	case "reject":
		if err := f.RejectFriendship(peer); err != nil {
			return err
		}
		fmt.Println(mutedStyle.Render("rejected " + peer))
	case "end":
		if err := f.EndFriendship(peer); err != nil {
			return err
		}
		fmt.Println(mutedStyle.Render("ended friendship with " + peer))
	case "chat":
		if err := f.InitiateChat(peer); err != nil {
			return err
		}
		fmt.Println(friendStyle.Render("secure chat with " + peer + " established"))
	}
	return nil
}

func printHelp() {
	for _, line := range []string{
		"friends [status]     list related users, optionally filtered",
		"request <user>       send a friendship request",
		"accept <user>        accept a pending request",
		"reject <user>        decline a pending request",
		"end <user>           terminate a friendship",
		"chat <user>          establish an encrypted chat",
		"send <user> <text>   send a message over an established chat",
		"passwd               change your password",
		"quit                 disconnect and exit",
	} {
		fmt.Println(mutedStyle.Render("  " + line))
	}
}
