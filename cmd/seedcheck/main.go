// Command seedcheck prints what the shared generator produces for a seed,
// for comparing a client's run against the server's view of it.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/MJE43/arcade-scoregate/internal/engine"
)

func main() {
	seed := flag.String("seed", "", "seed string as issued by /api/game/start")
	count := flag.Int("n", 10, "number of values to print")
	lo := flag.Int("min", 0, "lower bound for integer draws")
	hi := flag.Int("max", 0, "upper bound for integer draws; 0 prints raw floats")
	asJSON := flag.Bool("json", false, "print a JSON array instead of lines")
	flag.Parse()

	if *seed == "" && flag.NArg() > 0 {
		*seed = flag.Arg(0)
	}
	if *seed == "" || *count < 0 {
		fmt.Fprintln(os.Stderr, "usage: seedcheck [-n 10] [-min 0 -max 100] [-json] <seed>")
		os.Exit(2)
	}

	g := engine.Derive(*seed)
	r := engine.NewRand(*seed)

	values := make([]interface{}, *count)
	for i := range values {
		if *hi > *lo {
			values[i] = r.Range(*lo, *hi)
		} else {
			values[i] = r.Float64()
		}
	}

	if *asJSON {
		out, err := json.Marshal(map[string]interface{}{
			"seed":   *seed,
			"state":  g.State(),
			"values": values,
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(string(out))
		return
	}

	fmt.Printf("seed:  %q\n", *seed)
	fmt.Printf("state: %d (0x%08x)\n", g.State(), g.State())
	for i, v := range values {
		switch v := v.(type) {
		case float64:
			fmt.Printf("%4d  %.16f\n", i, v)
		default:
			fmt.Printf("%4d  %v\n", i, v)
		}
	}
}
