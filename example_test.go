package reactor_test

import (
	"fmt"
	"time"

	"github.com/joeycumines/go-reactor"
)

func ExampleSimulation() {
	sim := reactor.NewSimulation(time.Unix(0, 0))

	sim.CallLater(3*time.Second, func() { fmt.Println("three") })
	sim.CallLater(time.Second, func() { fmt.Println("one") })
	c := sim.CallLater(2*time.Second, func() { fmt.Println("two") })
	_ = c.Cancel()

	sim.Advance(5 * time.Second)

	//output:
	//one
	//three
}

func ExampleLoopingCall() {
	sim := reactor.NewSimulation(time.Unix(0, 0))

	var n int
	lc := reactor.NewLoopingCall(sim, func() error {
		n++
		fmt.Printf("tick %d at %v\n", n, sim.Now().Unix())
		if n == 3 {
			return fmt.Errorf("enough")
		}
		return nil
	})
	done, _ := lc.Start(10*time.Second, true)

	sim.Pump(10*time.Second, 10*time.Second)
	fmt.Println(<-done)

	//output:
	//tick 1 at 0
	//tick 2 at 10
	//tick 3 at 20
	//enough
}
