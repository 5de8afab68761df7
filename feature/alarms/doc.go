// Package alarms is the session module for an alarms service.
//
// It requests the alarm list when the session becomes ready and every
// refresh interval after that, and follows ALERT envelopes and test and
// silencing notifications. Results are published on the session under
// alarms, alerted_alarm, test and silenced.
package alarms
