package tree

import (
	"bitbucket.org/Davydov/plh/core"
)

// Resolve makes the tree binary. Nodes with a single child are merged
// with it, polytomies are split into cherries joined by zero-length
// branches. The node cache is cleared; call Reindex afterwards.
func (tree *Tree) Resolve() {
	for len(tree.childNodes) == 1 {
		child := tree.childNodes[0]
		child.Parent = nil
		child.BranchLength = 0
		tree.Node = child
	}
	tree.Node.resolve()
	tree.ClearCache()
}

func (node *Node) resolve() {
	for _, child := range node.childNodes {
		child.resolve()
	}
	for i, child := range node.childNodes {
		for len(child.childNodes) == 1 {
			sub := child.childNodes[0]
			sub.BranchLength += child.BranchLength
			sub.Parent = node
			node.childNodes[i] = sub
			child = sub
		}
	}
	for len(node.childNodes) > 2 {
		log.Debugf("Resolving polytomy with %d children", len(node.childNodes))
		cherry := &Node{}
		cherry.AddChild(node.childNodes[0])
		cherry.AddChild(node.childNodes[1])
		cherry.Parent = node
		node.childNodes = append([]*Node{cherry}, node.childNodes[2:]...)
	}
}

// Reindex numbers leaves 0..n-1 from left to right and internal nodes
// n..2n-2 in post-order.
func (tree *Tree) Reindex() {
	leafId := 0
	tree.PostOrder(func(node *Node) {
		if node.IsTerminal() {
			node.LeafId = leafId
			leafId++
		}
	})
	id := leafId
	tree.PostOrder(func(node *Node) {
		if node.IsTerminal() {
			node.Id = node.LeafId
		} else {
			node.Id = id
			id++
		}
	})
	tree.ClearCache()
}

// Operations returns the operations computing every internal node,
// children first.
func (tree *Tree) Operations() []core.Operation {
	return tree.DirtyOperations(nil, nil)
}

// DirtyOperations appends to dst the operations needed after the
// branches above the nodes marked in dirty changed. A nil dirty means
// every branch changed. An internal node is recomputed if one of its
// children is dirty or recomputed; recomputed nodes are marked in
// dirty, which the caller resets.
func (tree *Tree) DirtyOperations(dirty []bool, dst []core.Operation) []core.Operation {
	nodes := tree.Nodes()
	for _, node := range nodes[tree.NLeaves():] {
		c1, c2 := node.childNodes[0].Id, node.childNodes[1].Id
		if dirty == nil || dirty[c1] || dirty[c2] {
			dst = append(dst, core.Operation{Child1: c1, Child2: c2, Parent: node.Id})
			if dirty != nil {
				dirty[node.Id] = true
			}
		}
	}
	return dst
}

// Batches groups operations by height above the nodes they do not
// compute, so operations of one batch are independent.
func (tree *Tree) Batches(ops []core.Operation) [][]core.Operation {
	height := make(map[int]int, len(ops))
	var res [][]core.Operation
	for _, op := range ops {
		h := 1 + max(height[op.Child1], height[op.Child2])
		height[op.Parent] = h
		for len(res) < h {
			res = append(res, nil)
		}
		res[h-1] = append(res[h-1], op)
	}
	return res
}
