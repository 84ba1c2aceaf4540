package work

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Ambier/parameter-server/cmd/util"
	"github.com/Ambier/parameter-server/lib/kv"
	"github.com/Ambier/parameter-server/rpc/client"
	"github.com/Ambier/parameter-server/rpc/common"
)

var (
	pushCmd = &cobra.Command{
		Use:   "push [pairs]",
		Short: "Push values to the servers owning the keys",
		Long:  util.WrapString("Push values to the servers owning the keys. Pairs are specified as a comma-separated list of key=value entries, with | separating the elements of a key when vallen is greater than one (e.g. '1=0.5,2=1.5' or '1=0.5|0.6')."),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, vals, err := parsePairs(args[0], viper.GetInt("vallen"))
			if err != nil {
				return err
			}
			return runPush(keys, vals)
		},
	}
	pullCmd = &cobra.Command{
		Use:   "pull [keys]",
		Short: "Pull the current values of the given keys",
		Long:  util.WrapString("Pull the current values of the given keys. Keys are specified as a comma-separated list of single keys and inclusive ranges (e.g. '0-9,42')."),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := common.ParseKeySpec(args[0])
			if err != nil {
				return err
			}
			if len(keys) == 0 {
				return fmt.Errorf("no keys given")
			}
			return runPull(keys)
		},
	}
)

// runPush dispatches to the variant matching the configured value type
func runPush(keys []uint64, vals []float64) error {
	switch dtype := viper.GetString("dtype"); dtype {
	case "float32":
		return doPush[float32](keys, vals)
	case "float64":
		return doPush[float64](keys, vals)
	case "int32":
		return doPush[int32](keys, vals)
	case "int64":
		return doPush[int64](keys, vals)
	default:
		return fmt.Errorf("invalid dtype %s (expected one of: float32, float64, int32, int64)", dtype)
	}
}

// runPull dispatches to the variant matching the configured value type
func runPull(keys []uint64) error {
	switch dtype := viper.GetString("dtype"); dtype {
	case "float32":
		return doPull[float32](keys)
	case "float64":
		return doPull[float64](keys)
	case "int32":
		return doPull[int32](keys)
	case "int64":
		return doPull[int64](keys)
	default:
		return fmt.Errorf("invalid dtype %s (expected one of: float32, float64, int32, int64)", dtype)
	}
}

func doPush[V kv.Value](keys []uint64, vals []float64) error {
	cache, err := client.NewKVCache[V](util.GetShardID(), "cli", conn)
	if err != nil {
		return err
	}
	defer cache.Close()

	converted := make([]V, len(vals))
	for i, v := range vals {
		converted[i] = V(v)
	}

	ts, err := cache.Push(keys, converted, kv.SyncOpts{})
	if err != nil {
		return err
	}
	if err := cache.Wait(ts); err != nil {
		return err
	}

	fmt.Printf("pushed %d keys (timestamp %d)\n", len(keys), ts)
	return nil
}

func doPull[V kv.Value](keys []uint64) error {
	cache, err := client.NewKVCache[V](util.GetShardID(), "cli", conn)
	if err != nil {
		return err
	}
	defer cache.Close()

	vlen := viper.GetInt("vallen")
	if vlen < 1 {
		vlen = 1
	}
	vals := make([]V, len(keys)*vlen)

	ts, err := cache.Pull(keys, vals, kv.SyncOpts{})
	if err != nil {
		return err
	}
	if err := cache.Wait(ts); err != nil {
		return err
	}

	for i, key := range keys {
		parts := make([]string, vlen)
		for j := 0; j < vlen; j++ {
			parts[j] = fmt.Sprintf("%v", vals[i*vlen+j])
		}
		fmt.Printf("%d=%s\n", key, strings.Join(parts, "|"))
	}
	return nil
}

// parsePairs parses a comma-separated list of key=value entries into sorted
// keys and their flattened values. Every key must carry vlen values.
func parsePairs(spec string, vlen int) ([]uint64, []float64, error) {
	if vlen < 1 {
		vlen = 1
	}

	type pair struct {
		key  uint64
		vals []float64
	}

	var pairs []pair
	for _, entry := range strings.Split(spec, ",") {
		keyPart, valPart, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			return nil, nil, fmt.Errorf("invalid pair %q (expected key=value)", entry)
		}

		key, err := strconv.ParseUint(keyPart, 10, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid key %q: %v", keyPart, err)
		}

		valParts := strings.Split(valPart, "|")
		if len(valParts) != vlen {
			return nil, nil, fmt.Errorf("key %d has %d values, expected %d", key, len(valParts), vlen)
		}

		vals := make([]float64, 0, vlen)
		for _, v := range valParts {
			val, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, nil, fmt.Errorf("invalid value %q for key %d: %v", v, key, err)
			}
			vals = append(vals, val)
		}

		pairs = append(pairs, pair{key: key, vals: vals})
	}

	// requests carry their keys in ascending order
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].key < pairs[j].key })

	keys := make([]uint64, 0, len(pairs))
	vals := make([]float64, 0, len(pairs)*vlen)
	for i, p := range pairs {
		if i > 0 && keys[i-1] == p.key {
			return nil, nil, fmt.Errorf("duplicate key %d", p.key)
		}
		keys = append(keys, p.key)
		vals = append(vals, p.vals...)
	}
	return keys, vals, nil
}
