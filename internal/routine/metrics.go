/*
Mailstash - Self-hostable email archiving service.
Copyright © 2024-2026 Mailstash contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package routine

import "github.com/prometheus/client_golang/prometheus"

var (
	cyclesRun = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mailstash",
			Subsystem: "scheduler",
			Name:      "cycles_run",
			Help:      "Amount of fetch cycles completed successfully",
		},
	)
	cyclesFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailstash",
			Subsystem: "scheduler",
			Name:      "cycles_failed",
			Help:      "Amount of fetch cycles that failed",
		},
		[]string{"scope"},
	)
	workerRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mailstash",
			Subsystem: "scheduler",
			Name:      "worker_restarts",
			Help:      "Amount of routine worker restarts after crashes",
		},
	)
	restoresRun = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mailstash",
			Subsystem: "scheduler",
			Name:      "restores_run",
			Help:      "Amount of archived emails appended back to remote mailboxes",
		},
	)
	runningWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mailstash",
			Subsystem: "scheduler",
			Name:      "running_workers",
			Help:      "Amount of live routine workers",
		},
	)
)

func init() {
	prometheus.MustRegister(cyclesRun)
	prometheus.MustRegister(cyclesFailed)
	prometheus.MustRegister(workerRestarts)
	prometheus.MustRegister(restoresRun)
	prometheus.MustRegister(runningWorkers)
}
