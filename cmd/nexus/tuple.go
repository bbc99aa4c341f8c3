package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nexi-lab/nexus/internal/rebac/tuple"
	"github.com/nexi-lab/nexus/pkg/nexus"
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a permission tuple (rebac_create)",
	RunE:  runCreate,
}

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete a permission tuple (rebac_delete)",
	RunE:  runDelete,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate a permission check (rebac_check)",
	RunE:  runCheck,
}

func init() {
	for _, cmd := range []*cobra.Command{createCmd, deleteCmd, checkCmd} {
		cmd.Flags().String("subject-type", "", "Subject type (required)")
		cmd.Flags().String("subject-id", "", "Subject id (required)")
		cmd.Flags().String("subject-relation", "", "Subject relation, for userset-as-subject")
		cmd.Flags().String("relation", "", "Relation or permission name (required)")
		cmd.Flags().String("object-type", "", "Object type (required)")
		cmd.Flags().String("object-id", "", "Object id (required)")
		cmd.Flags().String("zone", "", "Zone (required)")
		for _, name := range []string{"subject-type", "subject-id", "relation", "object-type", "object-id", "zone"} {
			_ = cmd.MarkFlagRequired(name)
		}
	}

	rootCmd.AddCommand(createCmd, deleteCmd, checkCmd)
}

func tupleArgsFromFlags(cmd *cobra.Command) (tuple.Subject, string, tuple.Object, tuple.Zone) {
	subjectType, _ := cmd.Flags().GetString("subject-type")
	subjectID, _ := cmd.Flags().GetString("subject-id")
	subjectRelation, _ := cmd.Flags().GetString("subject-relation")
	relation, _ := cmd.Flags().GetString("relation")
	objectType, _ := cmd.Flags().GetString("object-type")
	objectID, _ := cmd.Flags().GetString("object-id")
	zone, _ := cmd.Flags().GetString("zone")

	subject := tuple.Subject{Type: subjectType, ID: subjectID, Relation: subjectRelation}
	object := tuple.Object{Type: objectType, ID: objectID}
	return subject, relation, object, tuple.Zone(zone)
}

func runCreate(cmd *cobra.Command, args []string) error {
	subject, relation, object, zone := tupleArgsFromFlags(cmd)

	n, err := nexus.New(nexus.Config{DataDir: dataDir})
	if err != nil {
		return err
	}
	defer n.Close()

	tupleID, err := n.RebacCreate(subject, relation, object, zone)
	if err != nil {
		return err
	}
	fmt.Println(tupleID)
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	subject, relation, object, zone := tupleArgsFromFlags(cmd)

	n, err := nexus.New(nexus.Config{DataDir: dataDir})
	if err != nil {
		return err
	}
	defer n.Close()

	if err := n.RebacDelete(subject, relation, object, zone); err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	subject, relation, object, zone := tupleArgsFromFlags(cmd)

	n, err := nexus.New(nexus.Config{DataDir: dataDir})
	if err != nil {
		return err
	}
	defer n.Close()

	allow, err := n.RebacCheck(subject, relation, object, zone)
	if err != nil {
		return err
	}
	if allow {
		fmt.Println("allow")
	} else {
		fmt.Println("deny")
	}
	return nil
}
