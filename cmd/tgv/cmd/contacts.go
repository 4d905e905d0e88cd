package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tgvault/tgvault/internal/archive"
)

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "Inspect and annotate archived contacts",
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

var contactsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List contacts with aliases and tags",
	RunE:  runContactsList,
}

var contactsShowCmd = &cobra.Command{
	Use:   "show <user-id>",
	Short: "Show one contact",
	Args:  cobra.ExactArgs(1),
	RunE:  runContactsShow,
}

var contactsAliasCmd = &cobra.Command{
	Use:   "alias <user-id> <alias>",
	Short: "Set a contact's alias",
	Args:  cobra.ExactArgs(2),
	RunE:  runContactsAlias,
}

var contactsNotesCmd = &cobra.Command{
	Use:   "notes <user-id> <notes>",
	Short: "Set a contact's notes",
	Args:  cobra.ExactArgs(2),
	RunE:  runContactsNotes,
}

var contactsTagCmd = &cobra.Command{
	Use:   "tag <user-id> <tag...>",
	Short: "Add tags to a contact",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runContactsTag,
}

var contactsUntagCmd = &cobra.Command{
	Use:   "untag <user-id> <tag...>",
	Short: "Remove tags from a contact",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runContactsUntag,
}

var contactsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Refresh the contact list from the network",
	RunE:  runContactsSync,
}

func init() {
	contactsCmd.AddCommand(contactsListCmd)
	contactsCmd.AddCommand(contactsShowCmd)
	contactsCmd.AddCommand(contactsAliasCmd)
	contactsCmd.AddCommand(contactsNotesCmd)
	contactsCmd.AddCommand(contactsTagCmd)
	contactsCmd.AddCommand(contactsUntagCmd)
	contactsCmd.AddCommand(contactsSyncCmd)
}

func parseUserID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid user id %q", arg)
	}
	return id, nil
}

func runContactsList(cmd *cobra.Command, args []string) error {
	return withService(true, func(_ string, svc *archive.Service) error {
		contacts, err := svc.ListContacts()
		if err != nil {
			return err
		}
		if len(contacts) == 0 {
			fmt.Println("no contacts")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "USER\tUSERNAME\tNAME\tALIAS\tTAGS")
		for _, c := range contacts {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
				c.UserID, c.Username, c.Name, c.Alias, strings.Join(c.Tags, ", "))
		}
		return w.Flush()
	})
}

func runContactsShow(cmd *cobra.Command, args []string) error {
	userID, err := parseUserID(args[0])
	if err != nil {
		return err
	}
	return withService(true, func(_ string, svc *archive.Service) error {
		c, err := svc.GetContact(userID)
		if err != nil {
			return err
		}
		fmt.Printf("user:     %d\nusername: %s\nname:     %s\nalias:    %s\ntags:     %s\n",
			c.UserID, c.Username, c.Name, c.Alias, strings.Join(c.Tags, ", "))
		if c.Notes != "" {
			fmt.Printf("\n%s\n", c.Notes)
		}
		return nil
	})
}

func runContactsAlias(cmd *cobra.Command, args []string) error {
	userID, err := parseUserID(args[0])
	if err != nil {
		return err
	}
	return withService(false, func(_ string, svc *archive.Service) error {
		return svc.SetContactAlias(userID, args[1])
	})
}

func runContactsNotes(cmd *cobra.Command, args []string) error {
	userID, err := parseUserID(args[0])
	if err != nil {
		return err
	}
	return withService(false, func(_ string, svc *archive.Service) error {
		return svc.SetContactNotes(userID, args[1])
	})
}

func runContactsTag(cmd *cobra.Command, args []string) error {
	userID, err := parseUserID(args[0])
	if err != nil {
		return err
	}
	return withService(false, func(_ string, svc *archive.Service) error {
		return svc.AddContactTags(userID, args[1:])
	})
}

func runContactsUntag(cmd *cobra.Command, args []string) error {
	userID, err := parseUserID(args[0])
	if err != nil {
		return err
	}
	return withService(false, func(_ string, svc *archive.Service) error {
		return svc.RemoveContactTags(userID, args[1:])
	})
}

func runContactsSync(cmd *cobra.Command, args []string) error {
	return withConnectedService(func(_ string, svc *archive.Service) error {
		n, err := svc.SyncContacts(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("%d contact(s) synced\n", n)
		return nil
	})
}
