/*
Brexp is a simple tool which helps working with trees in newick
format. Trees are resolved and renumbered the way plh does it. It has
three modes: "brlen" will export all the branch lengths with the plh
parameter names, "brtree" will export tree with node number labels
and "ops" will print the operation list with its dependency batches.
*/
package main

import (
	"fmt"
	"os"

	"github.com/op/go-logging"
	"gopkg.in/alecthomas/kingpin.v2"

	"bitbucket.org/Davydov/plh/tree"
)

var log = logging.MustGetLogger("brexp")

var (
	app    = kingpin.New("brexp", "export branches of a newick tree")
	inFile = app.Flag("in", "input filename, stdin by default").ExistingFile()
	mode   = app.Flag("mode", "program mode").Default("brlen").Enum("brlen", "brtree", "ops")
)

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))
	logging.SetBackend(logging.NewLogBackend(os.Stderr, "", 0))

	infile := os.Stdin
	if *inFile != "" {
		f, err := os.Open(*inFile)
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
		infile = f
	}

	t, err := tree.ParseNewick(infile)
	if err != nil {
		log.Fatal(err)
	}
	switch *mode {
	case "brlen":
		for _, node := range t.Nodes() {
			if !node.IsRoot() {
				fmt.Printf("br%d=%f\n", node.Id, node.BranchLength)
			}
		}
	case "brtree":
		fmt.Println(t.BrString())
	case "ops":
		for i, batch := range t.Batches(t.Operations()) {
			for _, op := range batch {
				fmt.Printf("%d\t%d\t%d\t%d\n", i, op.Child1, op.Child2, op.Parent)
			}
		}
	}
}
