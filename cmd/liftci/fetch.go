package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/liftci/liftci/internal/dataset"
)

var fetchFlags struct {
	bitcode  bool
	binaries bool
	tag      string
	size     string
	archFile string
	outDir   string
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download pre-built corpus archives from object storage",
	Long: `fetch downloads the pre-built test corpus from object storage.
For every architecture in the architecture list and every requested
archive kind, exactly one deterministic object key is fetched. Selecting
neither --bitcode nor --binaries is a usage error; a failed transfer is
fatal for the whole run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		opts := dataset.Options{
			Tag:      fetchFlags.tag,
			Size:     fetchFlags.size,
			Bitcode:  fetchFlags.bitcode,
			Binaries: fetchFlags.binaries,
		}
		if opts.Tag == "" {
			opts.Tag = cfg.Dataset.Tag
		}
		if opts.Size == "" {
			opts.Size = cfg.Dataset.Size
		}
		// Reject an empty selection before touching config or network.
		if err := opts.Validate(); err != nil {
			return err
		}

		archFile := fetchFlags.archFile
		if archFile == "" {
			archFile = cfg.Dataset.ArchFile
		}
		if archFile == "" {
			return fmt.Errorf("no architecture list: set --archs or dataset.arch_file")
		}

		archs, err := dataset.LoadArchitectures(archFile)
		if err != nil {
			return err
		}

		if err := cfg.ValidateSpaces(); err != nil {
			return err
		}
		store, err := cfg.NewObjectStore()
		if err != nil {
			return err
		}

		fetcher := dataset.NewFetcher(store, fetchFlags.outDir, logger)
		return fetcher.Fetch(cmd.Context(), opts, archs)
	},
}

var sourcesFlags struct {
	key        string
	out        string
	passphrase string
}

var fetchSourcesCmd = &cobra.Command{
	Use:   "fetch-sources",
	Short: "Download and decrypt the encrypted sources archive",
	Long: `fetch-sources downloads one fixed encrypted archive from object
storage, decrypts it with the passphrase supplied out-of-band, writes
the plaintext archive, and removes the ciphertext file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.ValidateSpaces(); err != nil {
			return err
		}

		passphrase := sourcesFlags.passphrase
		if passphrase == "" {
			passphrase = os.Getenv("BINJA_DECODE_KEY")
		}

		store, err := cfg.NewObjectStore()
		if err != nil {
			return err
		}

		return dataset.FetchEncrypted(cmd.Context(), store,
			sourcesFlags.key, passphrase, sourcesFlags.out, logger)
	},
}

func init() {
	f := fetchCmd.Flags()
	f.BoolVar(&fetchFlags.bitcode, "bitcode", false, "Fetch the intermediate-representation archives")
	f.BoolVar(&fetchFlags.binaries, "binaries", false, "Fetch the compiled-object archives")
	f.StringVar(&fetchFlags.tag, "tag", "", "Compiled-toolchain version tag (default from config, llvm11)")
	f.StringVar(&fetchFlags.size, "size", "", "Corpus size (default from config, 1k)")
	f.StringVar(&fetchFlags.archFile, "archs", "", "Path of the ordered architecture list")
	f.StringVar(&fetchFlags.outDir, "out", "compiled", "Directory receiving the archives")

	s := fetchSourcesCmd.Flags()
	s.StringVar(&sourcesFlags.key, "key", "sources/sources.tar.xz.gpg", "Object key of the encrypted archive")
	s.StringVar(&sourcesFlags.out, "out", "sources.tar.xz", "Path of the decrypted archive")
	s.StringVar(&sourcesFlags.passphrase, "passphrase", "", "Decryption passphrase (default: BINJA_DECODE_KEY env var)")
}
