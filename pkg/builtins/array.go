package builtins

import (
	"strconv"
	"strings"

	"github.com/crystal-mush/sparsearray/pkg/sparse"
)

func registerArrayFunctions(t *Table) {
	t.Register("array_entries", fnArrayEntries, 1, 1)
	t.Register("array_find", fnArrayFind, 2, 3)
	t.Register("array_count", fnArrayCount, 2, 3)
	t.Register("array_replace", fnArrayReplace, 3, 4)
	t.Register("array_pop", fnArrayPop, 1, 1)
	t.Register("array_shift", fnArrayShift, 1, 1)
	t.Register("array_remove", fnArrayRemove, 2, 3)

	// Variants share a handler and switch on the name they were called by.
	t.Alias("array_rfind", "array_find")
	t.Alias("array_lifo_pop", "array_pop")
	t.Alias("array_fifo_shift", "array_shift")

	t.Register("setarray", fnSetArray, 2, -1)
	t.Register("getelement", fnGetElement, 1, 1)
	t.Register("getarraysize", fnGetArraySize, 1, 1)
	t.Register("deletearray", fnDeleteArray, 1, 1)
}

// array_entries(ref) - number of occupied indices >= the reference index.
func fnArrayEntries(c *Call, args []string, buff *strings.Builder) error {
	n, err := c.Reg.Entries(c.Ctx, c.Ref.Name, c.Ref.Index)
	if err != nil {
		return err
	}
	buff.WriteString(strconv.FormatUint(uint64(n), 10))
	return nil
}

// array_find(ref, needle[, neq]) / array_rfind - first or last matching index, -1 if none.
func fnArrayFind(c *Call, args []string, buff *strings.Builder) error {
	reverse := strings.HasPrefix(c.Name, "array_r")
	idx, err := c.Reg.Find(c.Ctx, c.Ref.Name, c.Ref.Index, c.Ref.Value(args[0]), reverse, optFlag(args, 1))
	if err != nil {
		return err
	}
	buff.WriteString(strconv.FormatInt(idx, 10))
	return nil
}

// array_count(ref, needle[, neq])
func fnArrayCount(c *Call, args []string, buff *strings.Builder) error {
	n, err := c.Reg.Count(c.Ctx, c.Ref.Name, c.Ref.Index, c.Ref.Value(args[0]), optFlag(args, 1))
	if err != nil {
		return err
	}
	buff.WriteString(strconv.FormatUint(uint64(n), 10))
	return nil
}

// array_replace(ref, needle, replacement[, neq])
func fnArrayReplace(c *Call, args []string, buff *strings.Builder) error {
	n, err := c.Reg.Replace(c.Ctx, c.Ref.Name, c.Ref.Index, c.Ref.Value(args[0]), c.Ref.Value(args[1]), optFlag(args, 2))
	if err != nil {
		return err
	}
	buff.WriteString(strconv.FormatUint(uint64(n), 10))
	return nil
}

// array_pop(ref) / array_lifo_pop(ref)
func fnArrayPop(c *Call, args []string, buff *strings.Builder) error {
	lifo := strings.HasPrefix(c.Name, "array_l")
	v, _, err := c.Reg.Pop(c.Ctx, c.Ref.Name, c.Ref.Index, lifo)
	if err != nil {
		return err
	}
	buff.WriteString(v.String())
	return nil
}

// array_shift(ref) / array_fifo_shift(ref)
func fnArrayShift(c *Call, args []string, buff *strings.Builder) error {
	fifo := strings.HasPrefix(c.Name, "array_f")
	v, _, err := c.Reg.Shift(c.Ctx, c.Ref.Name, c.Ref.Index, fifo)
	if err != nil {
		return err
	}
	buff.WriteString(v.String())
	return nil
}

// array_remove(ref, needle[, neq])
func fnArrayRemove(c *Call, args []string, buff *strings.Builder) error {
	n, err := c.Reg.Remove(c.Ctx, c.Ref.Name, c.Ref.Index, c.Ref.Value(args[0]), optFlag(args, 1))
	if err != nil {
		return err
	}
	buff.WriteString(strconv.FormatUint(uint64(n), 10))
	return nil
}

// setarray(ref, v1, v2, ...) - consecutive indices from the reference index.
func fnSetArray(c *Call, args []string, buff *strings.Builder) error {
	for i, arg := range args {
		idx := uint64(c.Ref.Index) + uint64(i)
		if idx > uint64(sparse.MaxIndex) {
			return sparse.ErrIndexRange
		}
		if err := c.Reg.Set(c.Ctx, c.Ref.Name, uint32(idx), c.Ref.Value(arg)); err != nil {
			return err
		}
	}
	return nil
}

// getelement(ref)
func fnGetElement(c *Call, args []string, buff *strings.Builder) error {
	v, _, err := c.Reg.Get(c.Ctx, c.Ref.Name, c.Ref.Index)
	if err != nil {
		return err
	}
	buff.WriteString(v.String())
	return nil
}

// getarraysize(ref) - highest occupied index plus one.
func fnGetArraySize(c *Call, args []string, buff *strings.Builder) error {
	n, err := c.Reg.Size(c.Ctx, c.Ref.Name)
	if err != nil {
		return err
	}
	buff.WriteString(strconv.FormatUint(n, 10))
	return nil
}

// deletearray(ref) - unset every index >= the reference index.
func fnDeleteArray(c *Call, args []string, buff *strings.Builder) error {
	if c.Ref.Index == 0 {
		return c.Reg.Clear(c.Ctx, c.Ref.Name)
	}
	list, err := c.Reg.SortedIndices(c.Ctx, c.Ref.Name, true)
	if err != nil {
		return err
	}
	for _, idx := range list {
		if idx < c.Ref.Index {
			break
		}
		if err := c.Reg.Unset(c.Ctx, c.Ref.Name, idx); err != nil {
			return err
		}
	}
	return nil
}
