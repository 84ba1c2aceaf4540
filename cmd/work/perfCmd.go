package work

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Ambier/parameter-server/cmd/util"
	"github.com/Ambier/parameter-server/lib/kv"
	"github.com/Ambier/parameter-server/rpc/client"
	"github.com/Ambier/parameter-server/rpc/common"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for parameter servers",
		Long:    "",
		RunE:    run,
		PreRunE: processPerfConfig,
	}
	perfNumThreads = 10
	perfKeySpread  = 1000
	perfBatchSize  = 100
	perfDuration   = 5 * time.Second
	perfSkip       = make([]string, 0)
)

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. push,pull)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 1000, util.WrapString("How many different keys to use for the benchmark"))
	key = "batch"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many keys a single request carries"))
	key = "duration"
	perfTestCmd.Flags().Int(key, 5, util.WrapString("How long to run each benchmark (in seconds)"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfNumThreads = viper.GetInt("threads")
	perfKeySpread = viper.GetInt("keys")
	perfBatchSize = viper.GetInt("batch")
	perfDuration = time.Duration(viper.GetInt("duration")) * time.Second
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	if perfKeySpread < 1 {
		perfKeySpread = 1
	}
	if perfBatchSize < 1 {
		perfBatchSize = 1
	}
	if perfBatchSize > perfKeySpread {
		perfBatchSize = perfKeySpread
	}

	return nil
}

func run(_ *cobra.Command, _ []string) error {

	fmt.Println("Performance testing tool for parameter servers")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d, Keys: %d, Batch: %d, ValLen: %d, Duration: %s\n",
		perfNumThreads, perfKeySpread, perfBatchSize, viper.GetInt("vallen"), perfDuration)
	fmt.Println()

	switch dtype := viper.GetString("dtype"); dtype {
	case "float32":
		return doPerf[float32]()
	case "float64":
		return doPerf[float64]()
	case "int32":
		return doPerf[int32]()
	case "int64":
		return doPerf[int64]()
	default:
		return fmt.Errorf("invalid dtype %s (expected one of: float32, float64, int32, int64)", dtype)
	}
}

func doPerf[V kv.Value]() error {
	cache, err := client.NewKVCache[V](util.GetShardID(), "perf", conn)
	if err != nil {
		return err
	}
	defer cache.Close()

	vlen := viper.GetInt("vallen")
	if vlen < 1 {
		vlen = 1
	}

	// all threads cycle through the same consecutive key batches
	batches := makeBatches()
	vals := make([]V, perfBatchSize*vlen)
	for i := range vals {
		vals[i] = V(1)
	}

	fmt.Println("starting benchmarks...")

	// one synchronous push per batch, so pulls never hit uninitialized keys
	for _, batch := range batches {
		ts, err := cache.Push(batch, vals[:len(batch)*vlen], kv.SyncOpts{})
		if err != nil {
			return err
		}
		if err := cache.Wait(ts); err != nil {
			return err
		}
	}

	// Create results map
	results := make(map[string]benchResult)

	pushResult := runBench("push", func() func(int) error {
		return func(i int) error {
			batch := batches[i%len(batches)]
			done := make(chan error, 1)
			_, err := cache.Push(batch, vals[:len(batch)*vlen], kv.SyncOpts{
				Callback: func(err error) { done <- err },
			})
			if err != nil {
				return err
			}
			return <-done
		}
	})
	results["push"] = pushResult
	printResult("push", pushResult)

	pullResult := runBench("pull", func() func(int) error {
		// each thread scatters into its own buffer
		buf := make([]V, perfBatchSize*vlen)
		return func(i int) error {
			batch := batches[i%len(batches)]
			done := make(chan error, 1)
			_, err := cache.Pull(batch, buf[:len(batch)*vlen], kv.SyncOpts{
				Callback: func(err error) { done <- err },
			})
			if err != nil {
				return err
			}
			return <-done
		}
	})
	results["pull"] = pullResult
	printResult("pull", pullResult)

	mixedResult := runBench("mixed", func() func(int) error {
		buf := make([]V, perfBatchSize*vlen)
		return func(i int) error {
			batch := batches[i%len(batches)]
			done := make(chan error, 1)
			opts := kv.SyncOpts{Callback: func(err error) { done <- err }}

			var err error
			if i%2 == 0 {
				_, err = cache.Push(batch, vals[:len(batch)*vlen], opts)
			} else {
				_, err = cache.Pull(batch, buf[:len(batch)*vlen], opts)
			}
			if err != nil {
				return err
			}
			return <-done
		}
	})
	results["mixed"] = mixedResult
	printResult("mixed", mixedResult)

	// Write results to csv if specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, util.GetClientConfig()); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// benchResult bundles the latency sample of one benchmark with its wall
// clock duration and error count
type benchResult struct {
	timer   gometrics.Timer
	elapsed time.Duration
	errors  int64
}

func (r benchResult) opsPerSec() float64 {
	if r.timer == nil || r.elapsed <= 0 {
		return 0
	}
	return float64(r.timer.Count()) / r.elapsed.Seconds()
}

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// makeBatches splits the key spread into consecutive, sorted batches
func makeBatches() [][]uint64 {
	var batches [][]uint64
	for begin := 0; begin < perfKeySpread; begin += perfBatchSize {
		end := begin + perfBatchSize
		if end > perfKeySpread {
			end = perfKeySpread
		}
		batch := make([]uint64, 0, end-begin)
		for k := begin; k < end; k++ {
			batch = append(batch, uint64(k))
		}
		batches = append(batches, batch)
	}
	return batches
}

// runBench runs the op returned by newOp concurrently for the configured
// duration and samples the latency of every call. Each thread gets its own
// op so it can carry thread-local buffers.
func runBench(name string, newOp func() func(int) error) benchResult {
	if shouldSkip(name) {
		return benchResult{}
	}

	timer := gometrics.NewTimer()
	defer timer.Stop()

	var (
		wg       sync.WaitGroup
		errCount int64
	)

	start := time.Now()
	stop := start.Add(perfDuration)

	for t := 0; t < perfNumThreads; t++ {
		wg.Add(1)
		go func(seed int) {
			defer wg.Done()
			op := newOp()
			for i := seed; time.Now().Before(stop); i += perfNumThreads {
				opStart := time.Now()
				if err := op(i); err != nil {
					atomic.AddInt64(&errCount, 1)
				}
				timer.UpdateSince(opStart)
			}
		}(t)
	}

	wg.Wait()
	return benchResult{timer: timer, elapsed: time.Since(start), errors: errCount}
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result benchResult) {
	if result.timer == nil || result.timer.Count() == 0 {
		fmt.Printf("%-12sskipped\n", test)
		return
	}

	ps := result.timer.Percentiles([]float64{0.5, 0.95, 0.99})

	// Print the formatted result
	fmt.Printf("%-12s%d ops\t%.0f ops/sec\terrors=%d\n",
		test, result.timer.Count(), result.opsPerSec(), result.errors)
	fmt.Printf("%-12sp50=%s p95=%s p99=%s mean=%s min=%s max=%s stddev=%s\n",
		"", time.Duration(ps[0]), time.Duration(ps[1]), time.Duration(ps[2]),
		time.Duration(result.timer.Mean()), time.Duration(result.timer.Min()),
		time.Duration(result.timer.Max()), time.Duration(result.timer.StdDev()))
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]benchResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "Ops", "OpsPerSec", "P50", "P95", "P99",
		"Mean", "Min", "Max", "StdDev", "Errors", "Skipped",
		"Servers", "TimeoutSec", "RetryCount", "ConnectionsPerEndpoint",
		"ShardID", "DType", "ValLen", "Serializer", "Transport",
		"Threads", "BatchSize", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for test, result := range results {
		var (
			count     int64
			ps        = []float64{0, 0, 0}
			mean, dev float64
			min, max  int64
			skipped   = "true"
		)
		if result.timer != nil && result.timer.Count() > 0 {
			count = result.timer.Count()
			ps = result.timer.Percentiles([]float64{0.5, 0.95, 0.99})
			mean, dev = result.timer.Mean(), result.timer.StdDev()
			min, max = result.timer.Min(), result.timer.Max()
			skipped = "false"
		}

		row := []string{
			test,
			strconv.FormatInt(count, 10),
			fmt.Sprintf("%.0f", result.opsPerSec()),
			time.Duration(ps[0]).String(),
			time.Duration(ps[1]).String(),
			time.Duration(ps[2]).String(),
			time.Duration(mean).String(),
			time.Duration(min).String(),
			time.Duration(max).String(),
			time.Duration(dev).String(),
			strconv.FormatInt(result.errors, 10),
			skipped,
			strings.Join(config.Servers, ";"),
			strconv.FormatInt(config.TimeoutSecond, 10),
			strconv.Itoa(config.Transport.RetryCount),
			strconv.Itoa(config.Transport.ConnectionsPerEndpoint),
			strconv.FormatUint(util.GetShardID(), 10),
			viper.GetString("dtype"),
			strconv.Itoa(viper.GetInt("vallen")),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfBatchSize),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
