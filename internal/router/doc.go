// Package router holds the transport's channel bookkeeping.
//
// A Router maps channel names to ordered subscription handles and turns a
// decoded frame into a delivery plan: channel subscribers get the payload
// with the channel tag stripped, "global" subscribers get the frame as it
// arrived. Queue is the FIFO used for both pending outbound envelopes and
// pending inbound frames.
package router
