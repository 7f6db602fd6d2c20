package commands

import (
	"github.com/spf13/pflag"
)

// Flag names match configuration keys with dashes for underscores, so the
// config loader picks up any flag the user set. Defaults here are only
// shown in help; the effective defaults live in the config package.

func addDatasetFlags(fs *pflag.FlagSet) {
	fs.String("data-dir", "", "Directory holding the MNIST IDX files or mnist.npz")
	fs.String("cache-dir", "", "Download cache directory")
	fs.Bool("download", false, "Download MNIST when it is not found locally")
	fs.String("mirror-url", "", "URL of mnist.npz to download from")
	fs.Bool("skip-verify", false, "Skip the checksum of downloaded data")
	fs.Int("max-samples", 0, "Truncate each split to this many samples (0 for all)")
	fs.Int("batch-size", 0, "Mini-batch size")
	fs.Int("workers", 0, "Goroutines used by tensor kernels (0 for GOMAXPROCS)")
}

func addTrainingFlags(fs *pflag.FlagSet) {
	fs.Int("epochs", 0, "Number of training epochs")
	fs.Float64("learning-rate", 0, "Optimizer learning rate")
	fs.String("optimizer", "", "Optimizer (adam|sgd)")
	fs.Int("hidden-units", 0, "Width of the hidden dense layer")
	fs.Float64("validation-split", 0, "Fraction of training data held out for validation")
	fs.Bool("shuffle", true, "Shuffle training data every epoch")
	fs.Uint64("seed", 0, "Random seed for initialization and shuffling")
	fs.Int("log-every", 0, "Log training progress every N batches (0 disables)")
}

func addExportFlags(fs *pflag.FlagSet) {
	fs.String("output-dir", "", "Directory for the saved and converted models")
	fs.String("model-name", "", "Base file name for saved and converted models")
	fs.StringSlice("formats", nil, "Export formats (coreml,onnx)")
	fs.String("min-ios", "", "Minimum iOS deployment target for Core ML")
	fs.String("input-name", "", "Name of the converted model's input feature")
	fs.String("output-name", "", "Name of the converted model's output feature")
	fs.String("author", "", "Author recorded in converted model metadata")
	fs.String("license", "", "License recorded in converted model metadata")
}
