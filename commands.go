package main

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"text/tabwriter"

	"github.com/moby/patternmatcher"
	"github.com/samber/lo"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"

	"github.com/ossyrian/xpack/internal/archive"
	"github.com/ossyrian/xpack/internal/format"
)

// options turns the loaded config into archive options.
func (a *app) options(extra ...archive.Option) []archive.Option {
	// Load has already rejected unknown codecs
	codec, _ := a.cfg.CodecID()
	opts := []archive.Option{
		archive.WithFs(a.fs),
		archive.WithLogger(slog.Default()),
		archive.WithCodec(codec),
		archive.WithCRCVerify(a.cfg.VerifyCRC),
		archive.WithShrink(a.cfg.Shrink),
	}
	if a.cfg.Password != "" {
		opts = append(opts, archive.WithContentKey([]byte(a.cfg.Password)))
	}
	if a.cfg.MetadataKey != "" {
		opts = append(opts, archive.WithMetadataKey([]byte(a.cfg.MetadataKey)))
	}
	return append(opts, extra...)
}

// withArchive opens path, runs fn and closes the archive again.
func (a *app) withArchive(path string, fn func(p *archive.Package) error, extra ...archive.Option) (err error) {
	p, err := archive.Open(path, a.options(extra...)...)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() {
		err = errors.Join(err, p.Close())
	}()
	return fn(p)
}

var readOnly = archive.WithReadOnly(true)

// printStatus reports the outcome for one name and returns whether it
// succeeded.
func printStatus(w io.Writer, name string, err error) bool {
	if err != nil {
		fmt.Fprintf(w, "[failed] %s\n", name)
		slog.Error("operation failed", "name", name, "error", err)
		return false
	}
	fmt.Fprintf(w, "[ok] %s\n", name)
	return true
}

// newMatcher compiles a wildcard pattern. An empty pattern matches every
// name. A pattern that matches a directory also matches everything below
// it.
func newMatcher(pattern string) (func(name string) bool, error) {
	if pattern == "" {
		return func(string) bool { return true }, nil
	}
	pm, err := patternmatcher.New([]string{pattern})
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return func(name string) bool {
		ok, err := pm.MatchesOrParentMatches(name)
		return err == nil && ok
	}, nil
}

// matchNames returns the names of p selected by pattern.
func matchNames(p *archive.Package, pattern string) ([]string, error) {
	match, err := newMatcher(pattern)
	if err != nil {
		return nil, err
	}
	return lo.Filter(p.Names(), func(name string, _ int) bool {
		return match(name)
	}), nil
}

func (a *app) addFile(p *archive.Package, name string, data []byte) error {
	if a.cfg.Force && p.Exists(name) {
		if err := p.RemoveEntry(name); err != nil {
			return err
		}
	}
	return p.AddEntry(name, data, a.cfg.Password != "", a.cfg.Compress)
}

func (a *app) makeCmd() *cobra.Command {
	var appendTo bool
	cmd := &cobra.Command{
		Use:   "make <package>",
		Short: "Create an empty archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			exists, err := afero.Exists(a.fs, path)
			if err != nil {
				return fmt.Errorf("failed to stat %s: %w", path, err)
			}
			if exists && !appendTo {
				if !a.cfg.Force {
					return fmt.Errorf("%w: %s", format.ErrAlreadyExists, path)
				}
				if err := a.fs.Remove(path); err != nil {
					return fmt.Errorf("failed to remove %s: %w", path, err)
				}
			}

			p, err := archive.OpenNew(path, a.options()...)
			if err != nil {
				return err
			}
			if err := p.Close(); err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), path, nil)
			return nil
		},
	}
	cmd.Flags().BoolVar(&appendTo, "append", false, "append the archive to an existing file instead of replacing it")
	return cmd
}

func (a *app) addCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "add <package> <file>",
		Short: "Add a file to an archive",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			file := args[1]
			data, err := afero.ReadFile(a.fs, file)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", file, err)
			}
			if name == "" {
				name = filepath.ToSlash(file)
			}
			return a.withArchive(args[0], func(p *archive.Package) error {
				err := a.addFile(p, name, data)
				printStatus(cmd.OutOrStdout(), file, err)
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "name of the entry in the archive (defaults to the file path)")
	return cmd
}

func (a *app) maddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "madd <package> <file> [file ...]",
		Short: "Add several files to an archive",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withArchive(args[0], func(p *archive.Package) error {
				for _, file := range args[1:] {
					data, err := afero.ReadFile(a.fs, file)
					if err == nil {
						err = a.addFile(p, filepath.ToSlash(file), data)
					}
					if !printStatus(cmd.OutOrStdout(), file, err) {
						return err
					}
				}
				return nil
			})
		},
	}
}

func (a *app) rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <package> <pattern>",
		Short: "Remove the entries matching a wildcard",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withArchive(args[0], func(p *archive.Package) error {
				names, err := matchNames(p, args[1])
				if err != nil {
					return err
				}
				if len(names) == 0 {
					return fmt.Errorf("%w: no entry matches %q", format.ErrNotExists, args[1])
				}
				for _, name := range names {
					err := p.RemoveEntry(name)
					if !printStatus(cmd.OutOrStdout(), name, err) {
						return err
					}
				}
				return nil
			})
		},
	}
}

func (a *app) catCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <package> <pattern>",
		Short: "Write the content of matching entries to stdout",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withArchive(args[0], func(p *archive.Package) error {
				names, err := matchNames(p, args[1])
				if err != nil {
					return err
				}
				if len(names) == 0 {
					return fmt.Errorf("%w: no entry matches %q", format.ErrNotExists, args[1])
				}
				for _, name := range names {
					data, err := p.Entry(name)
					if err != nil {
						return err
					}
					if _, err := cmd.OutOrStdout().Write(data); err != nil {
						return err
					}
				}
				return nil
			}, readOnly)
		},
	}
}

func (a *app) lsCmd() *cobra.Command {
	var long, bySize bool
	cmd := &cobra.Command{
		Use:   "ls <package> [pattern]",
		Short: "List the entries of an archive",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern := ""
			if len(args) > 1 {
				pattern = args[1]
			}
			return a.withArchive(args[0], func(p *archive.Package) error {
				names, err := matchNames(p, pattern)
				if err != nil {
					return err
				}
				if bySize {
					sizes := make(map[string]uint64, len(names))
					for _, name := range names {
						if sizes[name], err = p.EntrySize(name); err != nil {
							return err
						}
					}
					slices.SortStableFunc(names, func(x, y string) int {
						return cmp.Compare(sizes[y], sizes[x])
					})
				}

				out := cmd.OutOrStdout()
				if !long {
					for _, name := range names {
						fmt.Fprintln(out, name)
					}
					return nil
				}
				return listLong(out, p, names)
			}, readOnly)
		},
	}
	cmd.Flags().BoolVarP(&long, "long", "l", false, "show the index record and digest of each entry")
	cmd.Flags().BoolVarP(&bySize, "size", "s", false, "sort by stored size, largest first")
	return cmd
}

func listLong(w io.Writer, p *archive.Package, names []string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCRC\tFLAGS\tHEAD\tSTORED\tSIZE\tDIGEST\tCONFLICT\tNAME")
	for _, name := range names {
		info, err := p.Info(name)
		if err != nil {
			return err
		}
		digest := "-"
		if d, err := archive.EntryDigest(p, name); err == nil {
			digest = d.Encoded()[:12]
		} else {
			slog.Warn("failed to read entry", "name", name, "error", err)
		}
		conflict := ""
		if len(info.Path) > 1 {
			conflict = "!C"
		}
		fmt.Fprintf(tw, "%#08x\t%#08x\t%s\t%d\t%d\t%d\t%s\t%s\t%s\n",
			info.ID, info.CRC, info.Flags, info.BlockHead, info.StoredSize, info.OriginalSize, digest, conflict, name)
	}
	return tw.Flush()
}

func (a *app) dumpCmd() *cobra.Command {
	var signature, header, names, data bool
	var blocks, blocksUnused, blocksContent, chainsAll bool
	var hashes, conflicts, hashAll bool
	var dataRange []string
	var blockName, blockIndex, hashID, hashName, hashChain string
	cmd := &cobra.Command{
		Use:   "dump <package>",
		Short: "Print the raw regions of an archive for debugging",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withArchive(args[0], func(p *archive.Package) error {
				w := cmd.OutOrStdout()
				var steps []func() error
				add := func(on bool, fn func() error) {
					if on {
						steps = append(steps, fn)
					}
				}

				add(signature, func() error { return p.DumpSignature(w) })
				add(header, func() error { return p.DumpHeader(w) })
				add(names, func() error { return p.DumpNames(w) })
				add(data, func() error { return p.DumpContent(w, 0, 0) })
				add(len(dataRange) > 0, func() error {
					if len(dataRange) != 2 {
						return fmt.Errorf("--data-offsize takes offset,size")
					}
					off, err := cast.ToUint32E(dataRange[0])
					if err != nil {
						return fmt.Errorf("invalid offset: %w", err)
					}
					size, err := cast.ToUint32E(dataRange[1])
					if err != nil {
						return fmt.Errorf("invalid size: %w", err)
					}
					return p.DumpContent(w, off, size)
				})
				add(blocks, func() error { return p.DumpBlocks(w, false) })
				add(blockName != "", func() error { return p.DumpChain(w, blockName) })
				add(blockIndex != "", func() error {
					i, err := cast.ToInt32E(blockIndex)
					if err != nil {
						return fmt.Errorf("invalid block index: %w", err)
					}
					return p.DumpBlock(w, i)
				})
				add(blocksUnused, func() error { return p.DumpUnusedBlocks(w) })
				add(blocksContent, func() error { return p.DumpUnusedContent(w) })
				add(chainsAll, func() error { return p.DumpChains(w) })
				add(hashes, func() error { return p.DumpHashes(w) })
				add(hashID != "", func() error {
					id, err := cast.ToUint32E(hashID)
					if err != nil {
						return fmt.Errorf("invalid hash id: %w", err)
					}
					return p.DumpHashByID(w, id)
				})
				add(hashName != "", func() error { return p.DumpHashByName(w, hashName) })
				add(conflicts, func() error { return p.DumpConflicts(w) })
				add(hashChain != "", func() error { return p.DumpHashPath(w, hashChain) })
				add(hashAll, func() error {
					for _, name := range p.Names() {
						fmt.Fprintf(w, "%s:\n", name)
						if err := p.DumpHashPath(w, name); err != nil {
							return err
						}
					}
					return nil
				})

				if len(steps) == 0 {
					steps = append(steps, func() error { return p.DumpHeader(w) })
				}
				for _, step := range steps {
					if err := step(); err != nil {
						return err
					}
				}
				return nil
			}, readOnly)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&signature, "signature", false, "dump the signature")
	f.BoolVar(&header, "header", false, "dump the header (default)")
	f.BoolVar(&names, "name", false, "dump the name blob")
	f.BoolVar(&data, "data", false, "dump the whole content arena")
	f.StringSliceVar(&dataRange, "data-offsize", nil, "dump part of the content arena: offset,size")
	f.BoolVar(&blocks, "block", false, "dump all live blocks")
	f.StringVar(&blockName, "block-name", "", "dump the block chain of an entry")
	f.StringVar(&blockIndex, "block-index", "", "dump one block by index")
	f.BoolVar(&blocksUnused, "block-unused", false, "dump all unused block slots")
	f.BoolVar(&blocksContent, "block-unused-content", false, "dump all free content ranges")
	f.BoolVar(&chainsAll, "block-chain-all", false, "dump the block chain of every entry")
	f.BoolVar(&hashes, "hash", false, "dump all hash slots")
	f.StringVar(&hashID, "hash-id", "", "dump one hash slot by id")
	f.StringVar(&hashName, "hash-name", "", "dump the hash slot of an entry")
	f.BoolVar(&conflicts, "hash-conflict", false, "dump all conflict slots")
	f.StringVar(&hashChain, "hash-chain-name", "", "dump the ids visited when looking up an entry")
	f.BoolVar(&hashAll, "hash-chain-all", false, "dump the lookup path of every entry")
	return cmd
}

func (a *app) unpackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unpack <package> [dir]",
		Short: "Extract every entry into a directory",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 1 {
				dir = args[1]
			}
			return a.withArchive(args[0], func(p *archive.Package) error {
				return archive.ExtractTo(cmd.Context(), p, a.fs, dir, archive.ExtractOptions{
					Force: a.cfg.Force,
					Jobs:  a.cfg.Jobs,
					Status: func(name string, err error) bool {
						return printStatus(cmd.OutOrStdout(), name, err)
					},
				})
			}, readOnly)
		},
	}
}

func (a *app) checkCmd() *cobra.Command {
	var crc bool
	cmd := &cobra.Command{
		Use:   "check <package> [package ...]",
		Short: "Verify the structure of archives",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var mu sync.Mutex
			p := pool.New().WithMaxGoroutines(a.cfg.Jobs).WithErrors()
			for _, path := range args {
				p.Go(func() error {
					err := a.checkArchive(path, crc)
					mu.Lock()
					printStatus(cmd.OutOrStdout(), path, err)
					mu.Unlock()
					if err != nil {
						return fmt.Errorf("%s: %w", path, err)
					}
					return nil
				})
			}
			return p.Wait()
		},
	}
	cmd.Flags().BoolVarP(&crc, "crc", "c", false, "read every entry and check its CRC")
	return cmd
}

// checkArchive walks every chain of the archive at path and, with crc,
// reads every entry back.
func (a *app) checkArchive(path string, crc bool) error {
	return a.withArchive(path, func(p *archive.Package) error {
		for _, name := range p.Names() {
			if _, err := p.EntrySize(name); err != nil {
				return fmt.Errorf("bad chain for %s: %w", name, err)
			}
			if !crc {
				continue
			}
			if _, err := p.Entry(name); err != nil {
				return err
			}
		}
		return nil
	}, readOnly, archive.WithCRCVerify(true))
}

func (a *app) mergeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "merge <main-package> <other-package>",
		Short: "Copy every entry of one archive into another",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withArchive(args[0], func(dst *archive.Package) error {
				return a.withArchive(args[1], func(src *archive.Package) error {
					return archive.Merge(dst, src, a.cfg.Force, func(name string, err error) bool {
						return printStatus(cmd.OutOrStdout(), name, err)
					})
				}, readOnly)
			})
		},
	}
}

func (a *app) optimizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "optimize <package>",
		Short: "Rebuild an archive without free space",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := archive.Optimize(args[0], a.options()...)
			printStatus(cmd.OutOrStdout(), args[0], err)
			return err
		},
	}
}

func (a *app) diffCmd() *cobra.Command {
	var content bool
	cmd := &cobra.Command{
		Use:   "diff <main-package> <other-package>",
		Short: "Compare the entries of two archives",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withArchive(args[0], func(left *archive.Package) error {
				return a.withArchive(args[1], func(right *archive.Package) error {
					entries, err := archive.Diff(left, right, content)
					if err != nil {
						return err
					}
					tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
					for _, e := range entries {
						fmt.Fprintf(tw, "%s\t%s\n", e.Status, e.Name)
					}
					return tw.Flush()
				}, readOnly)
			}, readOnly)
		},
	}
	cmd.Flags().BoolVar(&content, "content", false, "also compare entry content by digest")
	return cmd
}
