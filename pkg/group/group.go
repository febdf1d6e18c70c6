// Package group implements the three-stage candidate reduction that turns a
// stream of walked paths into equivalence classes of identical content: a
// zero-I/O size bucketing pass, a sparse-sample narrowing pass, and a final
// full-hash confirmation pass. Singletons are discarded between every
// stage, so only paths that survive all three are ever reported.
//
// Buckets are processed concurrently, bounded by an I/O-oriented worker
// pool; within a bucket, the CPU-bound hashing of individual files is
// further bounded by a separate, smaller worker pool sized to the host's
// CPU count. Files sharing a (device, inode) pair are hardlinks of one
// another and are hashed only once, through a representative path, since
// their content is identical by construction.
package group

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/imprintfs/imprint/pkg/digest"
	"github.com/imprintfs/imprint/pkg/filesystem"
	"github.com/imprintfs/imprint/pkg/logging"
	"github.com/imprintfs/imprint/pkg/walk"
)

// EquivalenceClass is a maximal set of paths confirmed, by full content
// hash, to hold identical bytes.
type EquivalenceClass struct {
	Digest digest.Full
	Size   int64
	Paths  []string
}

// Options controls grouping concurrency.
type Options struct {
	// HashWorkers bounds concurrent CPU-bound hash computations across all
	// buckets. Zero selects runtime.NumCPU().
	HashWorkers int
	// IOWorkers bounds concurrent bucket processing (directory/file opens).
	// Zero selects twice HashWorkers.
	IOWorkers int
	// Logger receives warnings for individual files that fail to hash; such
	// files are dropped from consideration rather than aborting the run.
	Logger *logging.Logger
}

// siblingGroup collapses paths known a priori to be identical because they
// share a (device, inode) pair. Only the representative path is ever opened
// for hashing; every path in the group is still carried through to the
// final equivalence class.
type siblingGroup struct {
	representative string
	paths          []string
}

// Group consumes candidates as produced by pkg/walk and returns the
// resulting equivalence classes. It does not return until candidates is
// closed and every bucket has been fully processed, or ctx is cancelled.
func Group(ctx context.Context, candidates <-chan walk.Candidate, options Options) ([]EquivalenceClass, error) {
	hashWorkers := options.HashWorkers
	if hashWorkers < 1 {
		hashWorkers = runtime.NumCPU()
		if hashWorkers < 1 {
			hashWorkers = 1
		}
	}
	ioWorkers := options.IOWorkers
	if ioWorkers < 1 {
		ioWorkers = hashWorkers * 2
	}

	sizeBuckets := make(map[int64][]walk.Candidate)
	for candidate := range candidates {
		if candidate.Size == 0 {
			continue
		}
		sizeBuckets[candidate.Size] = append(sizeBuckets[candidate.Size], candidate)
	}

	hashSem := make(chan struct{}, hashWorkers)

	ioGroup, ioCtx := errgroup.WithContext(ctx)
	ioGroup.SetLimit(ioWorkers)

	var mu sync.Mutex
	var classes []EquivalenceClass

	for size, members := range sizeBuckets {
		if len(members) < 2 {
			continue
		}
		size, members := size, members
		ioGroup.Go(func() error {
			found, err := processSizeBucket(ioCtx, hashSem, size, members, options.Logger)
			if err != nil {
				return err
			}
			if len(found) > 0 {
				mu.Lock()
				classes = append(classes, found...)
				mu.Unlock()
			}
			return nil
		})
	}

	if err := ioGroup.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(classes, func(i, j int) bool {
		if classes[i].Size != classes[j].Size {
			return classes[i].Size < classes[j].Size
		}
		return classes[i].Paths[0] < classes[j].Paths[0]
	})

	return classes, nil
}

// processSizeBucket runs the sparse-hash (when the bucket's size warrants
// it) and full-hash stages over one size bucket.
func processSizeBucket(ctx context.Context, hashSem chan struct{}, size int64, members []walk.Candidate, logger *logging.Logger) ([]EquivalenceClass, error) {
	groups := collapseSiblings(members)
	if len(groups) < 2 {
		return nil, nil
	}

	if size < digest.SampleThreshold {
		return hashFullAndClassify(ctx, hashSem, size, groups, logger)
	}

	sparseBuckets, err := hashSparseAndBucket(ctx, hashSem, size, groups, logger)
	if err != nil {
		return nil, err
	}

	var classes []EquivalenceClass
	for _, bucketGroups := range sparseBuckets {
		if len(bucketGroups) < 2 {
			continue
		}
		found, err := hashFullAndClassify(ctx, hashSem, size, bucketGroups, logger)
		if err != nil {
			return nil, err
		}
		classes = append(classes, found...)
	}
	return classes, nil
}

// hashSparseAndBucket computes the sparse sample for a representative of
// every sibling group and returns the groups partitioned by sample value.
// Groups whose representative fails to hash are logged and dropped rather
// than failing the whole run; only context cancellation aborts it.
func hashSparseAndBucket(ctx context.Context, hashSem chan struct{}, size int64, groups []*siblingGroup, logger *logging.Logger) (map[digest.Sparse][]*siblingGroup, error) {
	buckets := make(map[digest.Sparse][]*siblingGroup)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, g := range groups {
		g := g
		select {
		case hashSem <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-hashSem }()

			sample, ok, err := hashSparse(g.representative, size)
			if err != nil {
				logger.Warnf("unable to compute sparse hash for %s: %s", g.representative, err.Error())
				return
			}
			if !ok {
				return
			}

			mu.Lock()
			buckets[sample] = append(buckets[sample], g)
			mu.Unlock()
		}()
	}

	wg.Wait()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return buckets, nil
}

// hashFullAndClassify computes the full hash for a representative of every
// sibling group and returns the equivalence classes that survive (at least
// two sibling groups sharing a digest). Groups whose representative fails
// to hash are logged and dropped; only context cancellation aborts the run.
func hashFullAndClassify(ctx context.Context, hashSem chan struct{}, size int64, groups []*siblingGroup, logger *logging.Logger) ([]EquivalenceClass, error) {
	buckets := make(map[digest.Full][]*siblingGroup)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, g := range groups {
		g := g
		select {
		case hashSem <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-hashSem }()

			sum, err := hashFull(g.representative)
			if err != nil {
				logger.Warnf("unable to compute full hash for %s: %s", g.representative, err.Error())
				return
			}

			mu.Lock()
			buckets[sum] = append(buckets[sum], g)
			mu.Unlock()
		}()
	}

	wg.Wait()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var classes []EquivalenceClass
	for digestValue, bucketGroups := range buckets {
		if len(bucketGroups) < 2 {
			continue
		}
		var paths []string
		for _, g := range bucketGroups {
			paths = append(paths, g.paths...)
		}
		sort.Strings(paths)
		classes = append(classes, EquivalenceClass{Digest: digestValue, Size: size, Paths: paths})
	}
	return classes, nil
}

func hashFull(path string) (digest.Full, error) {
	file, err := os.Open(path)
	if err != nil {
		return digest.Full{}, err
	}
	defer file.Close()
	return digest.ComputeFull(file)
}

func hashSparse(path string, size int64) (digest.Sparse, bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return digest.Sparse{}, false, err
	}
	defer file.Close()

	holes, err := filesystem.NewHoleMap(path)
	var checker digest.HoleChecker = digest.NoHoles
	if err == nil {
		checker = holes
		defer holes.Close()
	}

	return digest.ComputeSparse(file, size, checker)
}

// collapseSiblings groups members sharing a (device, inode) identity,
// choosing the lexicographically smallest path in each group as the
// representative for hashing.
func collapseSiblings(members []walk.Candidate) []*siblingGroup {
	groups := make(map[string]*siblingGroup)
	var order []string
	for _, candidate := range members {
		key := siblingKey(candidate)
		g, ok := groups[key]
		if !ok {
			g = &siblingGroup{}
			groups[key] = g
			order = append(order, key)
		}
		g.paths = append(g.paths, candidate.Path)
	}

	result := make([]*siblingGroup, 0, len(order))
	for _, key := range order {
		g := groups[key]
		sort.Strings(g.paths)
		g.representative = g.paths[0]
		result = append(result, g)
	}
	return result
}

// siblingKey returns a key identifying files known a priori to be
// identical. A zero InodeID (platforms where identity can't be determined)
// never collapses distinct candidates: each gets its own key.
func siblingKey(c walk.Candidate) string {
	if c.Inode.Device != 0 || c.Inode.Inode != 0 {
		return fmt.Sprintf("%d:%d", c.Inode.Device, c.Inode.Inode)
	}
	return "path:" + c.Path
}
