package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ukydev/fleet-insights/internal/client"
	"github.com/ukydev/fleet-insights/internal/dashboard"
	"github.com/ukydev/fleet-insights/internal/events"
	"github.com/ukydev/fleet-insights/internal/models"
)

var statsModels = []string{"carriers", "drivers", "vehicles", "trips"}

func newStatsCmd(c *cli) *cobra.Command {
	var model string
	var limit int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "List records and totals per collection",
		RunE: func(cmd *cobra.Command, _ []string) error {
			selected := statsModels
			if model != "" {
				if !contains(statsModels, model) {
					return fmt.Errorf("unknown model %q (want one of %s)", model, strings.Join(statsModels, ", "))
				}
				selected = []string{model}
			}
			snap, err := loadFleet(cmd.Context(), c.api)
			if err != nil {
				return err
			}
			for i, m := range selected {
				if i > 0 {
					fmt.Fprintln(c.out)
				}
				if err := c.printStats(cmd.Context(), m, snap, limit); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "only this collection ("+strings.Join(statsModels, "|")+")")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "trips to list")
	return cmd
}

type fleetSnapshot struct {
	carriers []models.Carrier
	vehicles []models.Vehicle
	drivers  []models.Driver
}

func loadFleet(ctx context.Context, api *client.Client) (fleetSnapshot, error) {
	var s fleetSnapshot
	var err error
	if s.carriers, err = api.Carriers(ctx); err != nil {
		return s, err
	}
	if s.vehicles, err = api.Vehicles(ctx); err != nil {
		return s, err
	}
	if s.drivers, err = api.Drivers(ctx); err != nil {
		return s, err
	}
	return s, nil
}

func (c *cli) printStats(ctx context.Context, model string, s fleetSnapshot, limit int) error {
	tw := c.table()
	switch model {
	case "carriers":
		fmt.Fprintf(c.out, "Carriers: %d\n", len(s.carriers))
		fmt.Fprintln(tw, "Name\tVehicles\tDrivers")
		for _, row := range dashboard.CountByCarrier(s.carriers, s.vehicles, s.drivers) {
			fmt.Fprintf(tw, "%s\t%d\t%d\n", row.Carrier.Name, row.Vehicles, row.Drivers)
		}
	case "drivers":
		fmt.Fprintf(c.out, "Drivers: %d\n", len(s.drivers))
		fmt.Fprintln(tw, "Name\tUsername\tRole\tCarrier\tLicense")
		for _, d := range s.drivers {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.DisplayName(), d.Username, d.Role,
				dashboard.CarrierName(s.carriers, d.CarrierID), d.LicenseNumber)
		}
	case "vehicles":
		assigned := 0
		for _, v := range s.vehicles {
			if v.AssignedDriverID != nil {
				assigned++
			}
		}
		fmt.Fprintf(c.out, "Vehicles: %d (%d assigned)\n", len(s.vehicles), assigned)
		writeVehicles(tw, s.vehicles, s.carriers)
	case "trips":
		trips, err := c.api.Trips(ctx, "")
		if err != nil {
			return err
		}
		byStatus := map[models.TripStatus]int{}
		for _, t := range trips {
			byStatus[t.Status]++
		}
		fmt.Fprintf(c.out, "Trips: %d (completed %d, in progress %d, cancelled %d)\n", len(trips),
			byStatus[models.TripCompleted], byStatus[models.TripInProgress], byStatus[models.TripCancelled])
		sort.SliceStable(trips, func(i, j int) bool { return trips[i].StartTime.After(trips[j].StartTime) })
		if limit >= 0 && len(trips) > limit {
			trips = trips[:limit]
		}
		fmt.Fprintln(tw, "Start\tDriver\tVehicle\tStatus\tMiles\tFuel\tRoute")
		for _, t := range trips {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.1f\t%.1f\t%s -> %s\n",
				t.StartTime.In(c.cfg.TimeZone).Format("2006-01-02 15:04"), t.DriverName, t.VehicleNumber,
				t.Status, t.TotalMiles, t.FuelUsed, t.PickupLocationName, t.DropoffLocationName)
		}
	}
	return tw.Flush()
}

func writeVehicles(tw io.Writer, vehicles []models.Vehicle, carriers []models.Carrier) {
	fmt.Fprintln(tw, "ID\tNumber\tPlate\tState\tCarrier\tDriver")
	for _, v := range vehicles {
		driver := v.AssignedDriverName
		if v.AssignedDriverID == nil {
			driver = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", v.ID.Hex(), v.VehicleNumber, v.LicensePlate, v.State,
			dashboard.CarrierName(carriers, v.CarrierID), driver)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// formError turns a failed form into one error listing the banner and
// field messages.
func formError(state dashboard.FormState, err error) error {
	if state.OK() {
		return err
	}
	var parts []string
	if state.Banner != "" {
		parts = append(parts, state.Banner)
	}
	keys := make([]string, 0, len(state.Fields))
	for k := range state.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+": "+state.Fields[k])
	}
	return errors.New(strings.Join(parts, "; "))
}

// withDetail prefixes a dashboard message to the server's detail.
func withDetail(msg string, err error) error {
	if msg == "" {
		return err
	}
	if detail := client.Detail(err, ""); detail != "" {
		return fmt.Errorf("%s (%s)", msg, detail)
	}
	return errors.New(msg)
}

// confirmDelete asks on in unless yes is set, then runs the deletion.
func (c *cli) confirmDelete(ctx context.Context, d *dashboard.Deletion, what, id string, yes bool, in io.Reader) error {
	d.RequestDelete(id)
	if !yes {
		fmt.Fprintf(c.out, "Delete %s %s? [y/N] ", what, id)
		answer, _ := bufio.NewReader(in).ReadString('\n')
		if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
			d.Cancel()
			fmt.Fprintln(c.out, "Cancelled")
			return nil
		}
	}
	if err := d.Confirm(ctx); err != nil {
		return withDetail(d.Message(), err)
	}
	fmt.Fprintf(c.out, "Deleted %s %s\n", what, id)
	return nil
}

func newCarriersCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{Use: "carriers", Short: "List, create and delete carriers"}

	var search string
	list := &cobra.Command{
		Use:   "list",
		Short: "List carriers with vehicle and driver counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap, err := loadFleet(cmd.Context(), c.api)
			if err != nil {
				return err
			}
			carriers := dashboard.FilterCarriers(snap.carriers, search)
			tw := c.table()
			fmt.Fprintln(tw, "ID\tName\tAddress\tVehicles\tDrivers")
			for _, row := range dashboard.CountByCarrier(carriers, snap.vehicles, snap.drivers) {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", row.Carrier.ID.Hex(), row.Carrier.Name,
					row.Carrier.MainOfficeAddress, row.Vehicles, row.Drivers)
			}
			return tw.Flush()
		},
	}
	list.Flags().StringVarP(&search, "search", "s", "", "filter by name or address")

	var input models.CarrierInput
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a carrier",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := dashboard.NewCarrierForm(c.api)
			f.Input = input
			created, err := f.Submit(cmd.Context())
			if err != nil {
				return formError(f.State, err)
			}
			fmt.Fprintf(c.out, "Created carrier %s (%s)\n", created.Name, created.ID.Hex())
			return nil
		},
	}
	create.Flags().StringVar(&input.Name, "name", "", "carrier name")
	create.Flags().StringVar(&input.MainOfficeAddress, "address", "", "main office address")

	var yes bool
	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a carrier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.confirmDelete(cmd.Context(), dashboard.NewCarrierDeletion(c.api, c.logger),
				"carrier", args[0], yes, cmd.InOrStdin())
		},
	}
	del.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation")

	cmd.AddCommand(list, create, del)
	return cmd
}

func newVehiclesCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{Use: "vehicles", Short: "List, create and delete vehicles"}

	var search string
	list := &cobra.Command{
		Use:   "list",
		Short: "List vehicles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			carriers, err := c.api.Carriers(cmd.Context())
			if err != nil {
				return err
			}
			vehicles, err := c.api.Vehicles(cmd.Context())
			if err != nil {
				return err
			}
			tw := c.table()
			writeVehicles(tw, dashboard.FilterVehicles(vehicles, search), carriers)
			return tw.Flush()
		},
	}
	list.Flags().StringVarP(&search, "search", "s", "", "filter by number or plate")

	var input models.VehicleInput
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a vehicle",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := dashboard.NewVehicleForm(c.api, input.CarrierID)
			f.Input = input
			created, err := f.Submit(cmd.Context())
			if err != nil {
				return formError(f.State, err)
			}
			fmt.Fprintf(c.out, "Created vehicle %s (%s)\n", created.VehicleNumber, created.ID.Hex())
			return nil
		},
	}
	create.Flags().StringVar(&input.VehicleNumber, "number", "", "vehicle number")
	create.Flags().StringVar(&input.LicensePlate, "plate", "", "license plate")
	create.Flags().StringVar(&input.State, "state", "", "two-letter registration state")
	create.Flags().StringVar(&input.CarrierID, "carrier", "", "owning carrier id")

	var yes bool
	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a vehicle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.confirmDelete(cmd.Context(), dashboard.NewVehicleDeletion(c.api, c.logger),
				"vehicle", args[0], yes, cmd.InOrStdin())
		},
	}
	del.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation")

	cmd.AddCommand(list, create, del)
	return cmd
}

func newAssignCmd(c *cli) *cobra.Command {
	var none bool
	cmd := &cobra.Command{
		Use:   "assign VEHICLE_ID [DRIVER_ID]",
		Short: "Assign a driver to a vehicle, or list eligible drivers",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			board := dashboard.NewAssignmentBoard(c.api, c.logger)
			if err := board.Load(cmd.Context()); err != nil {
				return err
			}
			var vehicle *models.Vehicle
			for _, v := range board.Vehicles() {
				if v.ID.Hex() == args[0] {
					v := v
					vehicle = &v
					break
				}
			}
			if vehicle == nil {
				return fmt.Errorf("vehicle %s not found", args[0])
			}

			if len(args) == 1 && !none {
				tw := c.table()
				fmt.Fprintln(tw, "ID\tDriver\tLicense")
				for _, d := range board.DriversFor(*vehicle) {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", d.ID.Hex(), d.DisplayName(), d.LicenseNumber)
				}
				return tw.Flush()
			}

			var driverID *string
			if len(args) == 2 {
				if none {
					return errors.New("pass a driver id or --none, not both")
				}
				driverID = &args[1]
			}
			board.Edit(vehicle.ID.Hex())
			if err := board.Assign(cmd.Context(), vehicle.ID.Hex(), driverID); err != nil {
				return withDetail(board.Message(), err)
			}
			for _, v := range board.Vehicles() {
				if v.ID == vehicle.ID {
					if v.AssignedDriverID == nil {
						fmt.Fprintf(c.out, "Vehicle %s unassigned\n", v.VehicleNumber)
					} else {
						fmt.Fprintf(c.out, "Vehicle %s assigned to %s\n", v.VehicleNumber, v.AssignedDriverName)
					}
				}
			}
			fmt.Fprintf(c.out, "%d of %d vehicles assigned\n", board.AssignedCount(), len(board.Vehicles()))
			return nil
		},
	}
	cmd.Flags().BoolVar(&none, "none", false, "clear the vehicle's driver")
	return cmd
}

// notifying forwards each event to the client and then to ch.
type notifying struct {
	client.Subscriber
	ch chan<- events.InvalidationEvent
}

func (n notifying) Subscribe(fn func(events.InvalidationEvent)) error {
	return n.Subscriber.Subscribe(func(ev events.InvalidationEvent) {
		fn(ev)
		select {
		case n.ch <- ev:
		default:
		}
	})
}

func newWatchCmd(c *cli) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow mutations and print refreshed totals",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !c.cfg.MQTT.Enabled() {
				return errors.New("MQTT_BROKER is not set")
			}
			sub, closeFn, err := c.dial(c.cfg.MQTT, c.logger)
			if err != nil {
				return err
			}
			defer closeFn()

			ch := make(chan events.InvalidationEvent, 16)
			if err := c.api.Listen(notifying{Subscriber: sub, ch: ch}); err != nil {
				return err
			}
			ctx := cmd.Context()
			fmt.Fprintln(c.out, "Watching for changes")
			for seen := 0; count <= 0 || seen < count; seen++ {
				var ev events.InvalidationEvent
				select {
				case <-ctx.Done():
					return nil
				case ev = <-ch:
				}
				snap, err := loadFleet(ctx, c.api)
				if err != nil {
					c.logger.WithError(err).Warn("Refresh failed")
					continue
				}
				trips, err := c.api.Trips(ctx, models.TripCompleted)
				if err != nil {
					c.logger.WithError(err).Warn("Refresh failed")
					continue
				}
				fmt.Fprintf(c.out, "%s changed: %s | carriers %d, vehicles %d, drivers %d, completed trips %d\n",
					time.Now().In(c.cfg.TimeZone).Format("15:04:05"), strings.Join(ev.Keys, ", "),
					len(snap.carriers), len(snap.vehicles), len(snap.drivers), len(trips))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "exit after this many events (0 = run until interrupted)")
	return cmd
}
