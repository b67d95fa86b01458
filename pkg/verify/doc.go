// Package verify checks that a storage device returns exactly the bytes it
// was given.
//
// Each pass fills a byte budget with randomly sized files of random content.
// Every file is written to a memory-backed staging directory and
// fingerprinted there, then moved into the target directory. After a
// durability barrier each file's cached pages are dropped and the file is
// read back from the device and fingerprinted again. A differing fingerprint
// is a [Mismatch]; the pass keeps going so every corrupted file is found.
//
// A [Controller] runs passes in sequence:
//
//	c, err := verify.New(verify.Config{
//	    TargetDir:   "/mnt/disk/bitcheck",
//	    StagingRoot: "/dev/shm",
//	    Budget:      verify.Budget{MinFileSize: 64 << 10, MaxFileSize: 1 << 20, BytesPerPass: 1 << 30},
//	    Source:      src,
//	    Digester:    d,
//	})
//	res, err := c.Run(ctx)
//
// Cancelling ctx stops the run after the current pass. [Controller.Interrupt]
// stops it between files and deletes the run's files immediately. Every file
// name carries a per-run tag, and cleanup only ever touches tagged names.
package verify
